package handler

import (
	"net/http"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/finance"
	"github.com/Dan9191/finpay/internal/utils"
)

// loanRequest is shared by simulate and create. There is no rate field: a
// client-supplied annual_rate_pct is dropped by the decoder and the rate
// always comes from the tier table.
type loanRequest struct {
	AccountID      utils.Int64 `json:"account_id"`
	PrincipalCents utils.Int64 `json:"principal_cents"`
	TermMonths     utils.Int64 `json:"term_months"`
}

func (req *loanRequest) check() (utils.Int64, error) {
	if err := required("principal_cents", req.PrincipalCents.Set); err != nil {
		return req.AccountID, err
	}
	if err := required("term_months", req.TermMonths.Set); err != nil {
		return req.AccountID, err
	}
	if req.TermMonths.Value <= 0 || req.TermMonths.Value > finance.MaxTermMonths {
		return req.AccountID, errs.ErrInvalidTerm
	}
	return req.AccountID, nil
}

// SimulateLoan prices a loan for the caller's account.
func (h *Handler) SimulateLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	accountID, ok := h.bindOwned(w, r, &req, req.check)
	if !ok {
		return
	}
	sim, err := h.loans.Simulate(r.Context(), accountID, req.PrincipalCents.Value, int(req.TermMonths.Value))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// CreateLoan originates a loan for the caller's account.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	accountID, ok := h.bindOwned(w, r, &req, req.check)
	if !ok {
		return
	}
	out, err := h.loans.Originate(r.Context(), accountID, req.PrincipalCents.Value, int(req.TermMonths.Value))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// CurrentLoan returns the caller's active loan.
func (h *Handler) CurrentLoan(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var requested *int64
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := utils.ParseDigits(raw)
		if err != nil {
			h.writeError(w, r, errs.WithMessage(errs.ErrInvalidIdentifier, "account_id must be a positive integer"))
			return
		}
		requested = &id
	}
	accountID, err := h.svc.AccountForCaller(r.Context(), userID, requested)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.loans.CurrentLoan(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// ListInstallments returns the schedule of one of the caller's loans.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loanID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, installments, err := h.loans.ListInstallments(r.Context(), loanID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.AccountForCaller(r.Context(), userID, &loan.AccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loan": loan, "installments": installments})
}

type loanActionRequest struct {
	AccountID utils.Int64 `json:"account_id"`
}

// CancelLoan withdraws one of the caller's approved loans.
func (h *Handler) CancelLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := callerID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req loanActionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	accountID, err := h.svc.AccountForCaller(r.Context(), userID, req.AccountID.Ptr())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.loans.Cancel(r.Context(), loanID, accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

type payInstallmentRequest struct {
	InstallmentID utils.Int64 `json:"installment_id"`
	AccountID     utils.Int64 `json:"account_id"`
}

// PayInstallment pays one installment from the caller's account.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req payInstallmentRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		return req.AccountID, required("installment_id", req.InstallmentID.Set)
	})
	if !ok {
		return
	}
	out, err := h.loans.PayInstallment(r.Context(), req.InstallmentID.Value, accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type settleRequest struct {
	LoanID    utils.Int64 `json:"loan_id"`
	AccountID utils.Int64 `json:"account_id"`
}

// SettleLoan pays off one of the caller's loans.
func (h *Handler) SettleLoan(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	accountID, ok := h.bindOwned(w, r, &req, func() (utils.Int64, error) {
		return req.AccountID, required("loan_id", req.LoanID.Set)
	})
	if !ok {
		return
	}
	out, err := h.loans.SettleFull(r.Context(), req.LoanID.Value, accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
