package models

import "time"

// Installment represents one scheduled payment of a loan
type Installment struct {
	ID          int64     `json:"id"`
	LoanID      int64     `json:"loan_id"`
	Sequence    int       `json:"sequence"`
	DueDate     time.Time `json:"due_date"`
	AmountCents int64     `json:"amount_cents"`
	Paid        bool      `json:"paid"`
}

// Overdue reports whether the installment is unpaid and its due date is before asOf.
func (i *Installment) Overdue(asOf time.Time) bool {
	return !i.Paid && i.DueDate.Before(asOf)
}

// InstallmentReminder joins an upcoming installment with its owner's contact.
type InstallmentReminder struct {
	Installment Installment
	AccountID   int64
	OwnerName   string
	OwnerEmail  string
}
