package collections

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/finpay/internal/loans"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
	"github.com/Dan9191/finpay/internal/repository/memory"
)

type recordingNotifier struct {
	mu      sync.Mutex
	due     []int64
	overdue []int64
	fail    error
}

func (n *recordingNotifier) InstallmentDue(_ context.Context, r models.InstallmentReminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.due = append(n.due, r.Installment.ID)
	return nil
}

func (n *recordingNotifier) InstallmentOverdue(_ context.Context, r models.InstallmentReminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.overdue = append(n.overdue, r.Installment.ID)
	return nil
}

func setup(t *testing.T) (*loans.Servicer, *loans.Origination) {
	t.Helper()
	ctx := context.Background()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.New()

	var accountID int64
	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		u := &models.User{Name: "Alice", Email: "alice@example.com", Document: "12345678901", PersonType: models.PersonIndividual}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		acc := &models.Account{UserID: u.ID, Branch: models.DefaultBranch, MonthlyIncomeCents: 500000}
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		accountID = acc.ID
		return nil
	})
	require.NoError(t, err)

	svc := loans.NewServicer(store, log, nil, 0)
	out, err := svc.Originate(ctx, accountID, 1945, 2)
	require.NoError(t, err)
	return svc, out
}

func newJob(svc Loans, n *recordingNotifier, opts Options, at time.Time) *Job {
	log := logrus.New()
	log.SetOutput(io.Discard)
	j := New(svc, n, log, opts)
	j.now = func() time.Time { return at }
	return j
}

func TestRunOnceRemindsBeforeDueDate(t *testing.T) {
	svc, out := setup(t)
	first := out.Installments[0]
	n := &recordingNotifier{}

	j := newJob(svc, n, Options{ReminderDays: 3, AutoDisburse: true}, first.DueDate.AddDate(0, 0, -2))
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Disbursed)
	assert.Equal(t, 1, report.Reminders)
	assert.Zero(t, report.OverdueNotices)
	assert.Equal(t, []int64{first.ID}, n.due)
	require.NotNil(t, report.Review)
	assert.Empty(t, report.Review.Overdue)
}

func TestRunOnceFlagsArrears(t *testing.T) {
	svc, out := setup(t)
	first := out.Installments[0]
	n := &recordingNotifier{}
	ctx := context.Background()

	_, err := svc.Disburse(ctx, out.Loan.ID)
	require.NoError(t, err)

	j := newJob(svc, n, Options{ReminderDays: 0}, first.DueDate.AddDate(0, 0, 1))
	report, err := j.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int64{out.Loan.ID}, report.Review.Overdue)
	assert.Equal(t, []int64{first.ID}, n.overdue)
	assert.Empty(t, n.due)

	current, err := svc.CurrentLoan(ctx, out.Loan.AccountID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanInArrears, current.Status)
}

func TestRunOnceSendsOneOverdueNotice(t *testing.T) {
	svc, out := setup(t)
	first := out.Installments[0]
	ctx := context.Background()

	t.Run("approved loan is not chased", func(t *testing.T) {
		n := &recordingNotifier{}
		report, err := newJob(svc, n, Options{}, first.DueDate.AddDate(0, 0, 1)).RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.OverdueNotices)
		assert.Empty(t, n.overdue)
	})

	_, err := svc.Disburse(ctx, out.Loan.ID)
	require.NoError(t, err)

	n := &recordingNotifier{}
	for day := 1; day <= 5; day++ {
		_, err := newJob(svc, n, Options{}, first.DueDate.AddDate(0, 0, day).Add(9*time.Hour)).RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{first.ID}, n.overdue)
}

func TestRunOnceWithoutAutoDisburseLeavesApprovedLoans(t *testing.T) {
	svc, out := setup(t)
	j := newJob(svc, &recordingNotifier{}, Options{}, time.Now())

	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Disbursed)

	approved, err := svc.LoansByStatus(context.Background(), models.LoanApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, out.Loan.ID, approved[0].ID)
}

func TestRunOnceCollectsNotifierErrors(t *testing.T) {
	svc, out := setup(t)
	n := &recordingNotifier{fail: errors.New("smtp down")}

	j := newJob(svc, n, Options{ReminderDays: 3}, out.Installments[0].DueDate.AddDate(0, 0, -1))
	report, err := j.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Zero(t, report.Reminders)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc, _ := setup(t)
	j := newJob(svc, &recordingNotifier{}, Options{Schedule: "every tuesday"}, time.Now())
	assert.Error(t, j.Start())

	j = newJob(svc, &recordingNotifier{}, Options{Schedule: "@daily"}, time.Now())
	require.NoError(t, j.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
}
