package models

import "time"

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanApproved  LoanStatus = "approved"
	LoanDisbursed LoanStatus = "disbursed"
	LoanInArrears LoanStatus = "in_arrears"
	LoanPaid      LoanStatus = "paid"
	LoanCancelled LoanStatus = "cancelled"
)

// ActiveLoanStatuses are the states that count toward the one-active-loan rule.
var ActiveLoanStatuses = []LoanStatus{LoanApproved, LoanDisbursed, LoanInArrears}

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanApproved:  {LoanDisbursed, LoanCancelled, LoanPaid},
	LoanDisbursed: {LoanInArrears, LoanPaid},
	LoanInArrears: {LoanDisbursed, LoanPaid},
}

// IsActive reports whether s is neither paid nor cancelled.
func (s LoanStatus) IsActive() bool {
	return s == LoanApproved || s == LoanDisbursed || s == LoanInArrears
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Loan represents a fixed-installment loan owned by an account
type Loan struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	PrincipalCents int64      `json:"principal_cents"`
	AnnualRatePct  float64    `json:"annual_rate_pct"`
	TermMonths     int        `json:"term_months"`
	Status         LoanStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}
