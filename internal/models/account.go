package models

import (
	"fmt"
	"time"
)

// AccountStatus is the soft state of an account; accounts are never deleted.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// DefaultBranch is the branch code assigned to new accounts.
const DefaultBranch = "0001"

// Account holds the cached balance alongside the identity of the account.
// BalanceCents is only changed in the same store transaction that inserts the
// ledger entry responsible for the change.
type Account struct {
	ID                 int64         `json:"id"`
	UserID             int64         `json:"user_id"`
	Number             string        `json:"number"`
	Branch             string        `json:"branch"`
	BalanceCents       int64         `json:"balance_cents"`
	MonthlyIncomeCents int64         `json:"monthly_income_cents"`
	Status             AccountStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
}

// CanDebit reports whether money may leave the account.
func (a *Account) CanDebit() bool {
	return a.Status != AccountBlocked
}

// AccountNumber derives the display number from the account id.
func AccountNumber(id int64) string {
	return fmt.Sprintf("%08d", id)
}

// AccountSummary is the read model returned to account owners.
type AccountSummary struct {
	AccountID    int64         `json:"account_id"`
	OwnerName    string        `json:"owner_name"`
	Number       string        `json:"number"`
	Branch       string        `json:"branch"`
	BalanceCents int64         `json:"balance_cents"`
	Balance      string        `json:"balance"`
	Status       AccountStatus `json:"status"`
	PersonType   PersonType    `json:"person_type"`
}
