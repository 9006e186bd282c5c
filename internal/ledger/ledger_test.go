package ledger

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
	"github.com/Dan9191/finpay/internal/repository/memory"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newLedger(t *testing.T, enforceFunds bool) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	l := New(store, quietLogger(), nil, Options{
		EnforceFunds:     enforceFunds,
		UtilityMerchants: []int64{11, 12, 13},
	})
	return l, store
}

func seedAccount(t *testing.T, store *memory.Store, document string) *models.Account {
	t.Helper()
	acc := &models.Account{Branch: models.DefaultBranch, MonthlyIncomeCents: 500000}
	err := store.WithinTx(context.Background(), func(tx repository.Tx) error {
		u := &models.User{Name: "Owner " + document, Email: document + "@mail.test", Document: document, PersonType: models.PersonIndividual}
		if err := tx.CreateUser(context.Background(), u); err != nil {
			return err
		}
		acc.UserID = u.ID
		return tx.CreateAccount(context.Background(), acc)
	})
	require.NoError(t, err)
	return acc
}

func balance(t *testing.T, store *memory.Store, id int64) int64 {
	t.Helper()
	var b int64
	err := store.ReadOnly(context.Background(), func(tx repository.Tx) error {
		a, err := tx.FindAccount(context.Background(), id)
		if err != nil {
			return err
		}
		b = a.BalanceCents
		return nil
	})
	require.NoError(t, err)
	return b
}

func entries(t *testing.T, l *Ledger, id int64) []models.Transaction {
	t.Helper()
	list, err := l.ListTransactions(context.Background(), id, 0)
	require.NoError(t, err)
	return list
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, true)
	acc := seedAccount(t, store, "11111111111")

	tr, err := l.Deposit(ctx, acc.ID, 10000, "")
	require.NoError(t, err)
	assert.Equal(t, models.KindDeposit, tr.Kind)
	assert.Equal(t, models.TxConfirmed, tr.Status)
	assert.Equal(t, DepositReference, tr.Reference)
	assert.Nil(t, tr.SourceAccountID)

	assert.Equal(t, int64(10000), balance(t, store, acc.ID))
	list := entries(t, l, acc.ID)
	require.Len(t, list, 1)
	assert.Equal(t, tr.ID, list[0].ID)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, true)
	acc := seedAccount(t, store, "11111111111")

	for _, amount := range []int64{0, -1, -10000} {
		_, err := l.Deposit(ctx, acc.ID, amount, "")
		assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	}
	assert.Empty(t, entries(t, l, acc.ID))
	assert.Zero(t, balance(t, store, acc.ID))
}

func TestDepositUnknownAccount(t *testing.T) {
	l, _ := newLedger(t, true)
	_, err := l.Deposit(context.Background(), 99, 100, "")
	assert.ErrorIs(t, err, errs.ErrAccountNotFound)
}

func TestPayMerchant(t *testing.T) {
	ctx := context.Background()

	t.Run("debits and records merchant", func(t *testing.T) {
		l, store := newLedger(t, true)
		acc := seedAccount(t, store, "11111111111")
		_, err := l.Deposit(ctx, acc.ID, 5000, "")
		require.NoError(t, err)

		tr, err := l.PayMerchant(ctx, acc.ID, models.ID64(77), 2000, "")
		require.NoError(t, err)
		assert.Equal(t, PaymentReference, tr.Reference)
		require.NotNil(t, tr.MerchantID)
		assert.Equal(t, int64(77), *tr.MerchantID)
		assert.Equal(t, int64(3000), balance(t, store, acc.ID))
	})

	t.Run("insufficient funds leaves no trace", func(t *testing.T) {
		l, store := newLedger(t, true)
		acc := seedAccount(t, store, "11111111111")

		_, err := l.PayMerchant(ctx, acc.ID, nil, 1, "")
		assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
		assert.Empty(t, entries(t, l, acc.ID))
	})

	t.Run("funds check disabled allows overdraft", func(t *testing.T) {
		l, store := newLedger(t, false)
		acc := seedAccount(t, store, "11111111111")

		_, err := l.PayMerchant(ctx, acc.ID, nil, 700, "bill")
		require.NoError(t, err)
		assert.Equal(t, int64(-700), balance(t, store, acc.ID))
	})

	t.Run("blocked account", func(t *testing.T) {
		l, store := newLedger(t, false)
		acc := seedAccount(t, store, "11111111111")
		require.True(t, store.SetAccountStatus(acc.ID, models.AccountBlocked))

		_, err := l.PayMerchant(ctx, acc.ID, nil, 700, "")
		assert.ErrorIs(t, err, errs.ErrAccountBlocked)

		_, err = l.Deposit(ctx, acc.ID, 700, "")
		assert.NoError(t, err)
	})

	t.Run("unknown source", func(t *testing.T) {
		l, _ := newLedger(t, true)
		_, err := l.PayMerchant(ctx, 42, nil, 700, "")
		assert.ErrorIs(t, err, errs.ErrAccountNotFound)
	})
}

func TestPayUtility(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, true)
	acc := seedAccount(t, store, "11111111111")
	_, err := l.Deposit(ctx, acc.ID, 5000, "")
	require.NoError(t, err)

	tr, err := l.PayUtility(ctx, acc.ID, 12, 1500)
	require.NoError(t, err)
	assert.Equal(t, "PAG-UTIL-12", tr.Reference)

	_, err = l.PayUtility(ctx, acc.ID, 99, 1500)
	assert.ErrorIs(t, err, errs.ErrInvalidMerchant)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Equal(t, int64(3500), balance(t, store, acc.ID))
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("by document", func(t *testing.T) {
		l, store := newLedger(t, true)
		src := seedAccount(t, store, "11111111111")
		dst := seedAccount(t, store, "22222222222")
		_, err := l.Deposit(ctx, src.ID, 10000, "")
		require.NoError(t, err)

		res, err := l.Transfer(ctx, src.ID, "22222222222", 4000)
		require.NoError(t, err)
		assert.Equal(t, "Owner 22222222222", res.DestinationName)
		assert.Equal(t, "PIX-22222222222", res.Transaction.Reference)
		assert.Equal(t, int64(6000), balance(t, store, src.ID))
		assert.Equal(t, int64(4000), balance(t, store, dst.ID))
	})

	t.Run("by account id", func(t *testing.T) {
		l, store := newLedger(t, false)
		src := seedAccount(t, store, "11111111111")
		dst := seedAccount(t, store, "22222222222")

		res, err := l.Transfer(ctx, src.ID, strconv.FormatInt(dst.ID, 10), 100)
		require.NoError(t, err)
		assert.Equal(t, dst.ID, *res.Transaction.DestinationAccountID)
	})

	t.Run("self transfer is rejected with no row", func(t *testing.T) {
		l, store := newLedger(t, false)
		src := seedAccount(t, store, "11111111111")

		_, err := l.Transfer(ctx, src.ID, "11111111111", 100)
		assert.ErrorIs(t, err, errs.ErrSelfTransfer)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))

		_, err = l.Transfer(ctx, src.ID, strconv.FormatInt(src.ID, 10), 100)
		assert.ErrorIs(t, err, errs.ErrSelfTransfer)
		assert.Empty(t, entries(t, l, src.ID))
	})

	t.Run("failures in order", func(t *testing.T) {
		l, store := newLedger(t, true)
		src := seedAccount(t, store, "11111111111")
		seedAccount(t, store, "22222222222")

		_, err := l.Transfer(ctx, src.ID, "nobody", 0)
		assert.ErrorIs(t, err, errs.ErrInvalidAmount)
		_, err = l.Transfer(ctx, src.ID, "nobody", 10)
		assert.ErrorIs(t, err, errs.ErrDestinationNotFound)
		_, err = l.Transfer(ctx, src.ID, "22222222222", 10)
		assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
		_, err = l.Transfer(ctx, 999, "22222222222", 10)
		assert.ErrorIs(t, err, errs.ErrAccountNotFound)
	})
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, true)
	src := seedAccount(t, store, "11111111111")
	dst := seedAccount(t, store, "22222222222")
	_, err := l.Deposit(ctx, src.ID, 1000, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Transfer(ctx, src.ID, "22222222222", 100); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Zero(t, balance(t, store, src.ID))
	assert.Equal(t, int64(1000), balance(t, store, dst.ID))
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	l, store := newLedger(t, true)
	acc := seedAccount(t, store, "11111111111")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Deposit(ctx, acc.ID, 100, "")
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Zero(t, balance(t, store, acc.ID))
}

func TestListTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, store := newLedger(t, false)
	acc := seedAccount(t, store, "11111111111")
	for _, amount := range []int64{100, 200, 300} {
		_, err := l.Deposit(ctx, acc.ID, amount, "")
		require.NoError(t, err)
	}

	list, err := l.ListTransactions(ctx, acc.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(300), list[0].AmountCents)
	assert.Equal(t, int64(200), list[1].AmountCents)

	_, err = l.ListTransactions(ctx, 999, 10)
	assert.ErrorIs(t, err, errs.ErrAccountNotFound)
}
