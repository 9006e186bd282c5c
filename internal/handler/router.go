package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/metrics"
	"github.com/Dan9191/finpay/internal/middleware"
)

// NewRouter registers every route. Routes under the protected subrouter
// require a bearer token resolved by resolver.
func NewRouter(h *Handler, resolver middleware.CallerResolver, m *metrics.Collector, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog(log, m))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route_not_found", Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "method not allowed"})
	})

	// Public routes
	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/rates", h.Rates).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	// Protected routes
	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(resolver, log))
	api.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/deposit", h.Deposit).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}/transactions", h.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/me/summary", h.Summary).Methods(http.MethodGet)
	api.HandleFunc("/payments", h.PayMerchant).Methods(http.MethodPost)
	api.HandleFunc("/payments/utility", h.PayUtility).Methods(http.MethodPost)
	api.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/loans/simulate", h.SimulateLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans/create", h.CreateLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans/current", h.CurrentLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/pay_full", h.SettleLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id:[0-9]+}/installments", h.ListInstallments).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id:[0-9]+}/cancel", h.CancelLoan).Methods(http.MethodPost)
	api.HandleFunc("/installments/pay", h.PayInstallment).Methods(http.MethodPost)

	return r
}
