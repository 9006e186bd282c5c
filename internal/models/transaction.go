package models

import (
	"fmt"
	"time"
)

// TransactionKind is the kind of ledger entry.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindPayment  TransactionKind = "payment"
	KindTransfer TransactionKind = "transfer"
)

// TransactionStatus is the state of a ledger entry.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction represents a ledger entry. AmountCents is always positive; the
// direction follows from which of the account fields are set.
type Transaction struct {
	ID                   int64             `json:"id"`
	SourceAccountID      *int64            `json:"source_account_id,omitempty"`
	DestinationAccountID *int64            `json:"destination_account_id,omitempty"`
	MerchantID           *int64            `json:"merchant_id,omitempty"`
	Kind                 TransactionKind   `json:"kind"`
	AmountCents          int64             `json:"amount_cents"`
	Status               TransactionStatus `json:"status"`
	Reference            string            `json:"reference"`
	CreatedAt            time.Time         `json:"created_at"`
}

// Validate enforces the shape of an entry for its kind:
// deposit is destination-only, payment is source-only or source+merchant,
// transfer is source+destination.
func (t *Transaction) Validate() error {
	if t.AmountCents <= 0 {
		return fmt.Errorf("amount must be positive, got %d", t.AmountCents)
	}
	src, dst, merchant := t.SourceAccountID != nil, t.DestinationAccountID != nil, t.MerchantID != nil
	switch t.Kind {
	case KindDeposit:
		if src || !dst || merchant {
			return fmt.Errorf("deposit must reference only a destination account")
		}
	case KindPayment:
		if !src || dst {
			return fmt.Errorf("payment must reference a source account and no destination account")
		}
	case KindTransfer:
		if !src || !dst || merchant {
			return fmt.Errorf("transfer must reference source and destination accounts only")
		}
		if *t.SourceAccountID == *t.DestinationAccountID {
			return fmt.Errorf("transfer source and destination must differ")
		}
	default:
		return fmt.Errorf("unknown transaction kind %q", t.Kind)
	}
	return nil
}

// SignedAmount returns the effect of the entry on accountID's balance.
func (t *Transaction) SignedAmount(accountID int64) int64 {
	var delta int64
	if t.DestinationAccountID != nil && *t.DestinationAccountID == accountID {
		delta += t.AmountCents
	}
	if t.SourceAccountID != nil && *t.SourceAccountID == accountID {
		delta -= t.AmountCents
	}
	return delta
}

// ID64 returns a pointer to v, for the optional id fields.
func ID64(v int64) *int64 { return &v }
