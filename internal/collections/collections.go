// Package collections runs the periodic loan servicing pass: disbursal of
// approved loans, arrears review and borrower reminders.
package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/loans"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/notify"
)

// Loans is the part of loans.Servicer the job drives.
type Loans interface {
	LoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.Loan, error)
	Disburse(ctx context.Context, loanID int64) (*models.Loan, error)
	ReviewArrears(ctx context.Context, asOf time.Time) (*loans.ArrearsReview, error)
	Upcoming(ctx context.Context, from, to time.Time) ([]models.InstallmentReminder, error)
}

// Options configures the job.
type Options struct {
	Schedule     string
	ReminderDays int
	AutoDisburse bool
}

// Report summarizes one pass.
type Report struct {
	Disbursed      int
	Review         *loans.ArrearsReview
	Reminders      int
	OverdueNotices int
}

// Job is the scheduled servicing pass.
type Job struct {
	loans    Loans
	notifier notify.Notifier
	log      *logrus.Logger
	opts     Options
	now      func() time.Time
	cron     *cron.Cron
}

// New builds a Job. It does nothing until Start or RunOnce is called.
func New(l Loans, n notify.Notifier, log *logrus.Logger, opts Options) *Job {
	return &Job{loans: l, notifier: n, log: log, opts: opts, now: time.Now}
}

// Start schedules RunOnce on the configured cron spec.
func (j *Job) Start() error {
	logger := cron.PrintfLogger(j.log)
	j.cron = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := j.cron.AddFunc(j.opts.Schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.log.WithError(err).Error("Collections pass finished with errors")
		}
	}); err != nil {
		return fmt.Errorf("invalid collections schedule %q: %w", j.opts.Schedule, err)
	}
	j.cron.Start()
	j.log.WithField("schedule", j.opts.Schedule).Info("Collections scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running pass up to ctx's deadline.
func (j *Job) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		j.log.Warn("Collections pass still running at shutdown")
	}
}

// RunOnce performs one servicing pass. Individual failures are logged and
// joined into the returned error; the pass carries on past them.
func (j *Job) RunOnce(ctx context.Context) (*Report, error) {
	now := j.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	report := &Report{}
	var failed []error

	if j.opts.AutoDisburse {
		approved, err := j.loans.LoansByStatus(ctx, models.LoanApproved)
		if err != nil {
			failed = append(failed, fmt.Errorf("list approved loans: %w", err))
		}
		for _, loan := range approved {
			if _, err := j.loans.Disburse(ctx, loan.ID); err != nil {
				failed = append(failed, fmt.Errorf("disburse loan %d: %w", loan.ID, err))
				continue
			}
			report.Disbursed++
		}
	}

	review, err := j.loans.ReviewArrears(ctx, today)
	report.Review = review
	if err != nil {
		failed = append(failed, fmt.Errorf("review arrears: %w", err))
	}

	if j.opts.ReminderDays > 0 {
		due, err := j.loans.Upcoming(ctx, today, today.AddDate(0, 0, j.opts.ReminderDays+1))
		if err != nil {
			failed = append(failed, fmt.Errorf("list upcoming installments: %w", err))
		}
		for _, r := range due {
			if err := j.notifier.InstallmentDue(ctx, r); err != nil {
				failed = append(failed, fmt.Errorf("remind installment %d: %w", r.Installment.ID, err))
				continue
			}
			report.Reminders++
		}
	}

	// An installment gets one overdue notice, on the first pass after its due
	// date, and only while its loan has been disbursed.
	overdue, err := j.loans.Upcoming(ctx, today.AddDate(0, 0, -1), today)
	if err != nil {
		failed = append(failed, fmt.Errorf("list overdue installments: %w", err))
	}
	if len(overdue) > 0 {
		serviced, err := j.loans.LoansByStatus(ctx, models.LoanDisbursed, models.LoanInArrears)
		if err != nil {
			failed = append(failed, fmt.Errorf("list serviced loans: %w", err))
		}
		disbursed := make(map[int64]bool, len(serviced))
		for _, loan := range serviced {
			disbursed[loan.ID] = true
		}
		for _, r := range overdue {
			if !disbursed[r.Installment.LoanID] {
				continue
			}
			if err := j.notifier.InstallmentOverdue(ctx, r); err != nil {
				failed = append(failed, fmt.Errorf("overdue notice for installment %d: %w", r.Installment.ID, err))
				continue
			}
			report.OverdueNotices++
		}
	}

	j.log.WithFields(logrus.Fields{
		"disbursed":       report.Disbursed,
		"reminders":       report.Reminders,
		"overdue_notices": report.OverdueNotices,
		"errors":          len(failed),
	}).Info("Collections pass finished")
	return report, errors.Join(failed...)
}
