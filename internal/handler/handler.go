package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/finance"
	"github.com/Dan9191/finpay/internal/integrations/keyrate"
	"github.com/Dan9191/finpay/internal/ledger"
	"github.com/Dan9191/finpay/internal/loans"
	"github.com/Dan9191/finpay/internal/middleware"
	"github.com/Dan9191/finpay/internal/service"
)

const maxBodyBytes = 1 << 20

// RateSource reports the central bank's key rate.
type RateSource interface {
	Latest(ctx context.Context) (keyrate.Rate, error)
}

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler binds the engine's operations to HTTP.
type Handler struct {
	svc    *service.Service
	ledger *ledger.Ledger
	loans  *loans.Servicer
	rates  RateSource
	health Pinger
	log    *logrus.Logger
}

// NewHandler wires the handler. rates may be nil.
func NewHandler(svc *service.Service, l *ledger.Ledger, ls *loans.Servicer, rates RateSource, health Pinger, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, ledger: l, loans: ls, rates: rates, health: health, log: log}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindLimitExceeded, errs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and body. Internal errors are logged and
// replaced by a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errs.As(err)
	if !ok || e.Kind == errs.KindInternal {
		h.log.WithFields(logrus.Fields{
			"request_id": middleware.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
		return
	}

	entry := h.log.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"code":       e.Code,
	})
	if e.Kind == errs.KindUnavailable {
		entry.WithError(err).Warn("Store unavailable")
	} else {
		entry.Info(e.Message)
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: e.Code, Message: e.Message})
}

// decode reads a JSON object body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var numErr *strconv.NumError
		switch {
		case errors.Is(err, io.EOF):
			return errs.WithMessage(errs.ErrInvalidInput, "request body is required")
		case errors.As(err, &numErr):
			return errs.WithMessage(errs.ErrInvalidInput, "numeric field is out of range")
		default:
			return errs.WithMessage(errs.ErrInvalidInput, "invalid JSON body: "+err.Error())
		}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 || strings.TrimSpace(raw) != raw {
		return 0, errs.WithMessage(errs.ErrInvalidIdentifier, name+" must be a positive integer")
	}
	return id, nil
}

func required(name string, set bool) error {
	if !set {
		return errs.WithMessage(errs.ErrInvalidInput, name+" is required")
	}
	return nil
}

func callerID(r *http.Request) (int64, error) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return 0, errs.ErrUnauthenticated
	}
	return id, nil
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ratesResponse struct {
	Tiers      []finance.Tier `json:"tiers"`
	MaxTerm    int            `json:"max_term_months"`
	KeyRate    *keyrate.Rate  `json:"key_rate,omitempty"`
	KeyRateErr string         `json:"key_rate_error,omitempty"`
}

// Rates lists the interest tiers and, when reachable, the key rate.
func (h *Handler) Rates(w http.ResponseWriter, r *http.Request) {
	resp := ratesResponse{Tiers: finance.Tiers(), MaxTerm: finance.MaxTermMonths}
	if h.rates != nil {
		rate, err := h.rates.Latest(r.Context())
		if err != nil {
			h.log.WithError(err).Warn("Failed to get key rate")
			resp.KeyRateErr = "key rate unavailable"
		} else {
			resp.KeyRate = &rate
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
