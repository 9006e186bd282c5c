package handler

import (
	"net/http"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/ledger"
	"github.com/Dan9191/finpay/internal/utils"
)

type createAccountRequest struct {
	MonthlyIncomeCents utils.Int64 `json:"monthly_income_cents"`
}

// CreateAccount opens another account for the caller.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createAccountRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	account, err := h.svc.CreateAccount(r.Context(), userID, req.MonthlyIncomeCents.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetAccount returns one of the caller's accounts.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	accountID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.svc.GetAccount(r.Context(), userID, accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Summary returns the caller's primary account.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.svc.GetAccountSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListTransactions returns the statement of one of the caller's accounts.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	accountID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := utils.ParseDigits(raw)
		if err != nil || v == 0 {
			h.writeError(w, r, errs.WithMessage(errs.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = int(min(v, ledger.MaxStatementEntries))
	}

	if _, err := h.svc.AccountForCaller(r.Context(), userID, &accountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.ledger.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   accountID,
		"transactions": list,
	})
}

type depositRequest struct {
	AccountID   utils.Int64 `json:"account_id"`
	AmountCents utils.Int64 `json:"amount_cents"`
	Reference   string      `json:"reference"`
}

// Deposit credits one of the caller's accounts.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		return req.AccountID, required("amount_cents", req.AmountCents.Set)
	})
	if !ok {
		return
	}
	tr, err := h.ledger.Deposit(r.Context(), accountID, req.AmountCents.Value, req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

type paymentRequest struct {
	AccountID   utils.Int64 `json:"account_id"`
	MerchantID  utils.Int64 `json:"merchant_id"`
	AmountCents utils.Int64 `json:"amount_cents"`
	Reference   string      `json:"reference"`
}

// PayMerchant debits one of the caller's accounts for a merchant payment.
func (h *Handler) PayMerchant(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		return req.AccountID, required("amount_cents", req.AmountCents.Set)
	})
	if !ok {
		return
	}
	tr, err := h.ledger.PayMerchant(r.Context(), accountID, req.MerchantID.Ptr(), req.AmountCents.Value, req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

// PayUtility debits one of the caller's accounts for a utility bill.
func (h *Handler) PayUtility(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		if err := required("merchant_id", req.MerchantID.Set); err != nil {
			return req.AccountID, err
		}
		return req.AccountID, required("amount_cents", req.AmountCents.Set)
	})
	if !ok {
		return
	}
	tr, err := h.ledger.PayUtility(r.Context(), accountID, req.MerchantID.Value, req.AmountCents.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

type transferRequest struct {
	AccountID   utils.Int64 `json:"account_id"`
	Identifier  string      `json:"identifier"`
	AmountCents utils.Int64 `json:"amount_cents"`
}

// Transfer moves money from one of the caller's accounts to a document or
// account id.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		if req.Identifier == "" {
			return req.AccountID, errs.WithMessage(errs.ErrInvalidInput, "identifier is required")
		}
		return req.AccountID, required("amount_cents", req.AmountCents.Set)
	})
	if !ok {
		return
	}
	res, err := h.ledger.Transfer(r.Context(), accountID, utils.TransferKey(req.Identifier), req.AmountCents.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// bindOwned decodes the body into req, runs check and resolves the account
// the caller acts on. It writes the error response itself and reports
// whether the handler should continue.
func (h *Handler) bindOwned(w http.ResponseWriter, r *http.Request, req any, check func() (utils.Int64, error)) (int64, bool) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	if err := decode(r, req); err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	requested, err := check()
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	accountID, err := h.svc.AccountForCaller(r.Context(), userID, requested.Ptr())
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	return accountID, true
}
