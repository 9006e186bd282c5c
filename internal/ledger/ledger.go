// Package ledger applies balance-affecting operations as ledger entries.
//
// Every operation is one unit of work: the entry insert and the cached
// balance change commit together or not at all. Debited accounts are locked
// for the rest of the unit, transfers lock both sides in ascending id order.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/metrics"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
)

// Default references used when the caller supplies none.
const (
	DepositReference = "DEP-API"
	PaymentReference = "API-PAY"
)

// MaxStatementEntries caps ListTransactions.
const MaxStatementEntries = 200

// Options tunes the ledger's policy.
type Options struct {
	// EnforceFunds rejects payments and transfers that would take the
	// source balance below zero.
	EnforceFunds bool
	// UtilityMerchants is the allowed set for PayUtility.
	UtilityMerchants []int64
	// OperationTimeout bounds each operation, zero means no extra deadline.
	OperationTimeout time.Duration
}

// Ledger moves money between accounts.
type Ledger struct {
	store   repository.Store
	log     *logrus.Logger
	metrics *metrics.Collector
	opts    Options
}

// New builds a Ledger. m may be nil.
func New(store repository.Store, log *logrus.Logger, m *metrics.Collector, opts Options) *Ledger {
	return &Ledger{store: store, log: log, metrics: m, opts: opts}
}

// TransferResult is what a confirmed transfer reports back.
type TransferResult struct {
	Transaction     *models.Transaction `json:"transaction"`
	DestinationName string              `json:"destination_name"`
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, l.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (l *Ledger) observe(operation string, started time.Time, err *error) {
	l.metrics.ObserveOperation(operation, started, *err)
}

// Deposit credits amountCents to accountID.
func (l *Ledger) Deposit(ctx context.Context, accountID, amountCents int64, reference string) (tr *models.Transaction, err error) {
	defer l.observe("deposit", time.Now(), &err)
	if amountCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	if reference == "" {
		reference = DepositReference
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	err = l.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		tr, err = Credit(ctx, tx, accountID, amountCents, reference)
		return err
	})
	if err != nil {
		return nil, repository.OpError("deposit", err)
	}

	l.metrics.AddPosted(string(tr.Kind), tr.AmountCents)
	l.log.WithFields(logrus.Fields{
		"transaction_id": tr.ID,
		"account_id":     accountID,
		"amount_cents":   amountCents,
	}).Info("Deposit confirmed")
	return tr, nil
}

// PayMerchant debits sourceID for a payment to an optional merchant. Any
// merchant id is accepted.
func (l *Ledger) PayMerchant(ctx context.Context, sourceID int64, merchantID *int64, amountCents int64, reference string) (tr *models.Transaction, err error) {
	defer l.observe("pay_merchant", time.Now(), &err)
	if reference == "" {
		reference = PaymentReference
	}
	return l.pay(ctx, sourceID, merchantID, amountCents, reference)
}

// PayUtility debits sourceID for a utility bill. Only the configured
// utility merchants are accepted.
func (l *Ledger) PayUtility(ctx context.Context, sourceID, merchantID, amountCents int64) (tr *models.Transaction, err error) {
	defer l.observe("pay_utility", time.Now(), &err)
	if !slices.Contains(l.opts.UtilityMerchants, merchantID) {
		return nil, errs.ErrInvalidMerchant
	}
	return l.pay(ctx, sourceID, models.ID64(merchantID), amountCents, fmt.Sprintf("PAG-UTIL-%d", merchantID))
}

func (l *Ledger) pay(ctx context.Context, sourceID int64, merchantID *int64, amountCents int64, reference string) (*models.Transaction, error) {
	if amountCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	var tr *models.Transaction
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		tr, err = Debit(ctx, tx, sourceID, merchantID, amountCents, reference, l.opts.EnforceFunds)
		return err
	})
	if err != nil {
		return nil, repository.OpError("payment", err)
	}

	l.metrics.AddPosted(string(tr.Kind), tr.AmountCents)
	fields := logrus.Fields{
		"transaction_id": tr.ID,
		"account_id":     sourceID,
		"amount_cents":   amountCents,
	}
	if merchantID != nil {
		fields["merchant_id"] = *merchantID
	}
	l.log.WithFields(fields).Info("Payment confirmed")
	return tr, nil
}

// Transfer moves amountCents from sourceID to the account resolved from
// destination, which is either the owner's tax document or an account id.
func (l *Ledger) Transfer(ctx context.Context, sourceID int64, destination string, amountCents int64) (res *TransferResult, err error) {
	defer l.observe("transfer", time.Now(), &err)
	if amountCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	if destination == "" {
		return nil, errs.ErrDestinationNotFound
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	err = l.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindAccount(ctx, sourceID); err != nil {
			return repository.NotFoundAs(err, errs.ErrAccountNotFound)
		}
		dest, name, err := tx.ResolveAccount(ctx, destination)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrDestinationNotFound)
		}
		if dest.ID == sourceID {
			return errs.ErrSelfTransfer
		}

		locked, err := tx.LockAccounts(ctx, sourceID, dest.ID)
		if err != nil {
			return err
		}
		src, ok := locked[sourceID]
		if !ok {
			return errs.ErrAccountNotFound
		}
		if _, ok := locked[dest.ID]; !ok {
			return errs.ErrDestinationNotFound
		}
		if err := checkDebit(src, amountCents, l.opts.EnforceFunds); err != nil {
			return err
		}

		tr := &models.Transaction{
			SourceAccountID:      models.ID64(sourceID),
			DestinationAccountID: models.ID64(dest.ID),
			Kind:                 models.KindTransfer,
			AmountCents:          amountCents,
			Reference:            "PIX-" + destination,
		}
		if err := post(ctx, tx, tr); err != nil {
			return err
		}
		res = &TransferResult{Transaction: tr, DestinationName: name}
		return nil
	})
	if err != nil {
		return nil, repository.OpError("transfer", err)
	}

	l.metrics.AddPosted(string(res.Transaction.Kind), amountCents)
	l.log.WithFields(logrus.Fields{
		"transaction_id":         res.Transaction.ID,
		"account_id":             sourceID,
		"destination_account_id": *res.Transaction.DestinationAccountID,
		"amount_cents":           amountCents,
	}).Info("Transfer confirmed")
	return res, nil
}

// ListTransactions returns up to limit entries touching accountID, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > MaxStatementEntries {
		limit = MaxStatementEntries
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	var out []models.Transaction
	err := l.store.ReadOnly(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindAccount(ctx, accountID); err != nil {
			return repository.NotFoundAs(err, errs.ErrAccountNotFound)
		}
		var err error
		out, err = tx.ListTransactions(ctx, accountID, limit)
		return err
	})
	if err != nil {
		return nil, repository.OpError("list transactions", err)
	}
	return out, nil
}

// Credit posts a deposit entry to accountID inside tx. The account is locked
// for the rest of the unit. Blocked accounts may still receive money.
func Credit(ctx context.Context, tx repository.Tx, accountID, amountCents int64, reference string) (*models.Transaction, error) {
	if amountCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	locked, err := tx.LockAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, ok := locked[accountID]; !ok {
		return nil, errs.ErrAccountNotFound
	}

	tr := &models.Transaction{
		DestinationAccountID: models.ID64(accountID),
		Kind:                 models.KindDeposit,
		AmountCents:          amountCents,
		Reference:            reference,
	}
	if err := post(ctx, tx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// Debit posts a payment entry from accountID inside tx. The account is locked
// for the rest of the unit; with requireFunds the balance must cover the
// amount.
func Debit(ctx context.Context, tx repository.Tx, accountID int64, merchantID *int64, amountCents int64, reference string, requireFunds bool) (*models.Transaction, error) {
	if amountCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	locked, err := tx.LockAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acc, ok := locked[accountID]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}
	if err := checkDebit(acc, amountCents, requireFunds); err != nil {
		return nil, err
	}

	tr := &models.Transaction{
		SourceAccountID: models.ID64(accountID),
		MerchantID:      merchantID,
		Kind:            models.KindPayment,
		AmountCents:     amountCents,
		Reference:       reference,
	}
	if err := post(ctx, tx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func checkDebit(acc *models.Account, amountCents int64, requireFunds bool) error {
	if !acc.CanDebit() {
		return errs.ErrAccountBlocked
	}
	if requireFunds && acc.BalanceCents < amountCents {
		return errs.ErrInsufficientFunds
	}
	return nil
}

// post validates the entry shape, inserts it confirmed and applies it to the
// cached balances of the accounts it references.
func post(ctx context.Context, tx repository.Tx, tr *models.Transaction) error {
	if err := tr.Validate(); err != nil {
		return errs.Wrap(errs.ErrInvalidInput, err)
	}
	tr.Status = models.TxConfirmed
	if err := tx.InsertTransaction(ctx, tr); err != nil {
		return err
	}
	if tr.SourceAccountID != nil {
		if err := tx.AdjustBalance(ctx, *tr.SourceAccountID, -tr.AmountCents); err != nil {
			return err
		}
	}
	if tr.DestinationAccountID != nil {
		if err := tx.AdjustBalance(ctx, *tr.DestinationAccountID, tr.AmountCents); err != nil {
			return err
		}
	}
	return nil
}
