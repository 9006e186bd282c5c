package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
)

func seed(t *testing.T, s *Store, document string) (models.User, models.Account) {
	t.Helper()
	var user models.User
	var acct models.Account
	err := s.WithinTx(context.Background(), func(tx repository.Tx) error {
		user = models.User{Name: "Ana " + document, Email: document + "@example.com", Document: document, PersonType: models.PersonIndividual}
		if err := tx.CreateUser(context.Background(), &user); err != nil {
			return err
		}
		acct = models.Account{UserID: user.ID, Branch: models.DefaultBranch}
		return tx.CreateAccount(context.Background(), &acct)
	})
	require.NoError(t, err)
	return user, acct
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	_, acct := seed(t, s, "11122233344")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.AdjustBalance(ctx, acct.ID, 500))
		require.NoError(t, tx.InsertTransaction(ctx, &models.Transaction{
			Kind: models.KindDeposit, DestinationAccountID: models.ID64(acct.ID), AmountCents: 500, Status: models.TxConfirmed,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.ReadOnly(ctx, func(tx repository.Tx) error {
		a, err := tx.FindAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), a.BalanceCents)
		txs, err := tx.ListTransactions(ctx, acct.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, txs)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateUserRejectsDuplicateDocument(t *testing.T) {
	s := New()
	seed(t, s, "11122233344")
	err := s.WithinTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateUser(context.Background(), &models.User{Name: "Other", Document: "11122233344"})
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestResolveAccountPrefersDocument(t *testing.T) {
	s := New()
	_, first := seed(t, s, "2")
	_, second := seed(t, s, "99988877766")
	ctx := context.Background()

	_ = s.ReadOnly(ctx, func(tx repository.Tx) error {
		a, name, err := tx.ResolveAccount(ctx, "99988877766")
		require.NoError(t, err)
		assert.Equal(t, second.ID, a.ID)
		assert.Equal(t, "Ana 99988877766", name)

		// "2" is both the first user's document and the second account's id.
		a, _, err = tx.ResolveAccount(ctx, "2")
		require.NoError(t, err)
		assert.Equal(t, first.ID, a.ID)

		_, _, err = tx.ResolveAccount(ctx, "nope")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
}

func TestInsertLoanEnforcesSingleActiveLoan(t *testing.T) {
	s := New()
	_, acct := seed(t, s, "11122233344")
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertLoan(ctx, &models.Loan{AccountID: acct.ID, PrincipalCents: 1000, TermMonths: 2, Status: models.LoanApproved, CreatedAt: now})
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertLoan(ctx, &models.Loan{AccountID: acct.ID, PrincipalCents: 1000, TermMonths: 2, Status: models.LoanApproved, CreatedAt: now})
	})
	assert.ErrorIs(t, err, errs.ErrActiveLoanExists)
}

func TestListUpcomingInstallments(t *testing.T) {
	s := New()
	_, acct := seed(t, s, "11122233344")
	ctx := context.Background()
	base := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(tx repository.Tx) error {
		loan := models.Loan{AccountID: acct.ID, PrincipalCents: 3000, TermMonths: 3, Status: models.LoanDisbursed, CreatedAt: base}
		if err := tx.InsertLoan(ctx, &loan); err != nil {
			return err
		}
		return tx.InsertInstallments(ctx, []models.Installment{
			{LoanID: loan.ID, Sequence: 1, DueDate: base.AddDate(0, 0, 1), AmountCents: 1000, Paid: true},
			{LoanID: loan.ID, Sequence: 2, DueDate: base.AddDate(0, 0, 2), AmountCents: 1000},
			{LoanID: loan.ID, Sequence: 3, DueDate: base.AddDate(0, 0, 30), AmountCents: 1000},
		})
	})
	require.NoError(t, err)

	_ = s.ReadOnly(ctx, func(tx repository.Tx) error {
		got, err := tx.ListUpcomingInstallments(ctx, base, base.AddDate(0, 0, 3))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 2, got[0].Installment.Sequence)
		assert.Equal(t, "11122233344@example.com", got[0].OwnerEmail)
		return nil
	})
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithinTx(ctx, func(tx repository.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
