// Package loans originates and services fixed-installment loans.
//
// Writers lock rows in one order: loan, then installment, then account.
// Origination is the exception that takes no loan lock; it locks the account
// and relies on that lock to serialize the active-loan check with the insert.
package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/finance"
	"github.com/Dan9191/finpay/internal/ledger"
	"github.com/Dan9191/finpay/internal/metrics"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
)

// Servicer runs loan operations against the store.
type Servicer struct {
	store   repository.Store
	log     *logrus.Logger
	metrics *metrics.Collector
	timeout time.Duration
	now     func() time.Time
}

// NewServicer builds a Servicer. m may be nil; timeout of zero adds no
// deadline beyond the caller's.
func NewServicer(store repository.Store, log *logrus.Logger, m *metrics.Collector, timeout time.Duration) *Servicer {
	return &Servicer{store: store, log: log, metrics: m, timeout: timeout, now: time.Now}
}

// Origination is a newly approved loan and its schedule.
type Origination struct {
	Loan         *models.Loan         `json:"loan"`
	Installments []models.Installment `json:"installments"`
	Simulation   finance.Simulation   `json:"simulation"`
}

// InstallmentPayment is the outcome of paying one installment.
type InstallmentPayment struct {
	Installment *models.Installment `json:"installment"`
	Transaction *models.Transaction `json:"transaction"`
	LoanStatus  models.LoanStatus   `json:"loan_status"`
}

// Settlement is the outcome of paying a loan off.
type Settlement struct {
	LoanID              int64               `json:"loan_id"`
	AmountCents         int64               `json:"amount_cents"`
	InstallmentsSettled int                 `json:"installments_settled"`
	Transaction         *models.Transaction `json:"transaction,omitempty"`
}

// ArrearsReview counts the status changes made by ReviewArrears.
type ArrearsReview struct {
	Reviewed int     `json:"reviewed"`
	Overdue  []int64 `json:"overdue"`
	Cured    []int64 `json:"cured"`
}

func (s *Servicer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Servicer) observe(operation string, started time.Time, err *error) {
	s.metrics.ObserveOperation(operation, started, *err)
}

// today is the calendar date of the servicer's clock, at UTC midnight, so
// due dates match what a DATE column stores.
func (s *Servicer) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Simulate prices a loan for the account's declared income without
// persisting anything.
func (s *Servicer) Simulate(ctx context.Context, accountID, principalCents int64, termMonths int) (sim finance.Simulation, err error) {
	defer s.observe("simulate_loan", time.Now(), &err)
	if termMonths <= 0 || termMonths > finance.MaxTermMonths {
		return finance.Simulation{}, errs.ErrInvalidTerm
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var income int64
	err = s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		acc, err := tx.FindAccount(ctx, accountID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrAccountNotFound)
		}
		income = acc.MonthlyIncomeCents
		return nil
	})
	if err != nil {
		return finance.Simulation{}, repository.OpError("simulate loan", err)
	}
	return finance.Simulate(principalCents, termMonths, income)
}

// Originate approves a loan for accountID and generates its schedule. The
// active-loan check and the insert run under the account's row lock.
func (s *Servicer) Originate(ctx context.Context, accountID, principalCents int64, termMonths int) (out *Origination, err error) {
	defer s.observe("originate_loan", time.Now(), &err)
	if principalCents <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	if termMonths <= 0 || termMonths > finance.MaxTermMonths {
		return nil, errs.ErrInvalidTerm
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, accountID)
		if err != nil {
			return err
		}
		acc, ok := locked[accountID]
		if !ok {
			return errs.ErrAccountNotFound
		}
		if !acc.CanDebit() {
			return errs.ErrAccountBlocked
		}

		active, err := tx.HasActiveLoan(ctx, accountID)
		if err != nil {
			return err
		}
		if active {
			return errs.ErrActiveLoanExists
		}

		sim, err := finance.Simulate(principalCents, termMonths, acc.MonthlyIncomeCents)
		if err != nil {
			return err
		}
		if !sim.WithinLimit {
			return errs.WithMessage(errs.ErrLimitExceeded, fmt.Sprintf(
				"requested principal %d exceeds the limit of %d cents", principalCents, sim.MaxPrincipalCents))
		}
		if sim.MonthlyPaymentCents <= 0 {
			return errs.WithMessage(errs.ErrInvalidAmount, "principal is too small for the requested term")
		}

		loan := &models.Loan{
			AccountID:      accountID,
			PrincipalCents: principalCents,
			AnnualRatePct:  sim.AnnualRatePct,
			TermMonths:     termMonths,
			Status:         models.LoanApproved,
			CreatedAt:      s.now(),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}

		schedule := buildSchedule(loan.ID, s.today(), termMonths, sim.MonthlyPaymentCents)
		if err := tx.InsertInstallments(ctx, schedule); err != nil {
			return err
		}
		out = &Origination{Loan: loan, Installments: schedule, Simulation: sim}
		return nil
	})
	if err != nil {
		return nil, repository.OpError("originate loan", err)
	}

	s.metrics.LoanTransition(string(models.LoanApproved))
	s.log.WithFields(logrus.Fields{
		"loan_id":         out.Loan.ID,
		"account_id":      accountID,
		"principal_cents": principalCents,
		"term_months":     termMonths,
		"annual_rate_pct": out.Loan.AnnualRatePct,
		"pmt_cents":       out.Simulation.MonthlyPaymentCents,
	}).Info("Loan approved")
	return out, nil
}

func buildSchedule(loanID int64, start time.Time, termMonths int, pmtCents int64) []models.Installment {
	dates := finance.DueDates(start, termMonths)
	out := make([]models.Installment, len(dates))
	for k, due := range dates {
		out[k] = models.Installment{
			LoanID:      loanID,
			Sequence:    k + 1,
			DueDate:     due,
			AmountCents: pmtCents,
		}
	}
	return out
}

// PayInstallment debits accountID for one installment and marks it paid.
// Paying the last open installment moves the loan to paid.
func (s *Servicer) PayInstallment(ctx context.Context, installmentID, accountID int64) (out *InstallmentPayment, err error) {
	defer s.observe("pay_installment", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		peek, err := tx.FindInstallment(ctx, installmentID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrInstallmentNotFound)
		}
		loan, err := tx.LockLoan(ctx, peek.LoanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		if loan.AccountID != accountID {
			return errs.ErrAccountMismatch
		}
		inst, err := tx.LockInstallment(ctx, installmentID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrInstallmentNotFound)
		}
		if inst.Paid {
			return errs.ErrAlreadyPaid
		}
		if !loan.Status.IsActive() {
			return errs.ErrLoanNotActive
		}

		tr, err := ledger.Debit(ctx, tx, accountID, nil, inst.AmountCents,
			fmt.Sprintf("LOAN-%d-INST-%d", loan.ID, inst.Sequence), true)
		if err != nil {
			return err
		}
		if err := tx.MarkInstallmentsPaid(ctx, inst.ID); err != nil {
			return err
		}
		inst.Paid = true

		status := loan.Status
		remaining, err := unpaid(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := transition(ctx, tx, loan, models.LoanPaid); err != nil {
				return err
			}
			status = models.LoanPaid
		}
		out = &InstallmentPayment{Installment: inst, Transaction: tr, LoanStatus: status}
		return nil
	})
	if err != nil {
		return nil, repository.OpError("pay installment", err)
	}

	s.metrics.AddPosted(string(out.Transaction.Kind), out.Transaction.AmountCents)
	if out.LoanStatus == models.LoanPaid {
		s.metrics.LoanTransition(string(models.LoanPaid))
	}
	s.log.WithFields(logrus.Fields{
		"installment_id": installmentID,
		"loan_id":        out.Installment.LoanID,
		"account_id":     accountID,
		"amount_cents":   out.Installment.AmountCents,
		"loan_status":    out.LoanStatus,
	}).Info("Installment paid")
	return out, nil
}

// SettleFull pays every open installment of the loan in one debit equal to
// their sum and moves the loan to paid.
func (s *Servicer) SettleFull(ctx context.Context, loanID, accountID int64) (out *Settlement, err error) {
	defer s.observe("settle_loan", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		if loan.AccountID != accountID {
			return errs.ErrAccountMismatch
		}
		if !loan.Status.IsActive() {
			return errs.ErrLoanNotActive
		}

		open, err := unpaid(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		var outstanding int64
		ids := make([]int64, len(open))
		for k, inst := range open {
			outstanding += inst.AmountCents
			ids[k] = inst.ID
		}

		out = &Settlement{LoanID: loan.ID, AmountCents: outstanding, InstallmentsSettled: len(open)}
		if outstanding > 0 {
			out.Transaction, err = ledger.Debit(ctx, tx, accountID, nil, outstanding,
				fmt.Sprintf("LOAN-%d-SETTLE", loan.ID), true)
			if err != nil {
				return err
			}
		}
		if err := tx.MarkInstallmentsPaid(ctx, ids...); err != nil {
			return err
		}
		return transition(ctx, tx, loan, models.LoanPaid)
	})
	if err != nil {
		return nil, repository.OpError("settle loan", err)
	}

	s.metrics.AddPosted(string(models.KindPayment), out.AmountCents)
	s.metrics.LoanTransition(string(models.LoanPaid))
	s.log.WithFields(logrus.Fields{
		"loan_id":      loanID,
		"account_id":   accountID,
		"amount_cents": out.AmountCents,
		"installments": out.InstallmentsSettled,
	}).Info("Loan settled")
	return out, nil
}

// Disburse credits the principal of an approved loan to its account and
// moves the loan to disbursed.
func (s *Servicer) Disburse(ctx context.Context, loanID int64) (loan *models.Loan, err error) {
	defer s.observe("disburse_loan", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		if loan.Status != models.LoanApproved {
			return errs.ErrLoanNotActive
		}
		if _, err := ledger.Credit(ctx, tx, loan.AccountID, loan.PrincipalCents,
			fmt.Sprintf("LOAN-%d-DISB", loan.ID)); err != nil {
			return err
		}
		return transition(ctx, tx, loan, models.LoanDisbursed)
	})
	if err != nil {
		return nil, repository.OpError("disburse loan", err)
	}

	s.metrics.AddPosted(string(models.KindDeposit), loan.PrincipalCents)
	s.metrics.LoanTransition(string(models.LoanDisbursed))
	s.log.WithFields(logrus.Fields{
		"loan_id":         loan.ID,
		"account_id":      loan.AccountID,
		"principal_cents": loan.PrincipalCents,
	}).Info("Loan disbursed")
	return loan, nil
}

// Cancel withdraws an approved loan that has not been disbursed or paid into.
func (s *Servicer) Cancel(ctx context.Context, loanID, accountID int64) (loan *models.Loan, err error) {
	defer s.observe("cancel_loan", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		if loan.AccountID != accountID {
			return errs.ErrAccountMismatch
		}
		if loan.Status != models.LoanApproved {
			return errs.ErrLoanNotActive
		}
		installments, err := tx.ListInstallments(ctx, loan.ID)
		if err != nil {
			return err
		}
		for _, inst := range installments {
			if inst.Paid {
				return errs.WithMessage(errs.ErrLoanNotActive, "loan has paid installments and cannot be cancelled")
			}
		}
		return transition(ctx, tx, loan, models.LoanCancelled)
	})
	if err != nil {
		return nil, repository.OpError("cancel loan", err)
	}

	s.metrics.LoanTransition(string(models.LoanCancelled))
	s.log.WithFields(logrus.Fields{"loan_id": loanID, "account_id": accountID}).Info("Loan cancelled")
	return loan, nil
}

// ReviewArrears moves disbursed loans with an installment overdue at asOf to
// in_arrears and in_arrears loans with none back to disbursed. Each loan is
// its own unit of work; a failure on one loan does not stop the others.
func (s *Servicer) ReviewArrears(ctx context.Context, asOf time.Time) (*ArrearsReview, error) {
	var candidates []models.Loan
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		candidates, err = tx.ListLoansByStatus(ctx, models.LoanDisbursed, models.LoanInArrears)
		return err
	})
	if err != nil {
		return nil, repository.OpError("review arrears", err)
	}

	review := &ArrearsReview{Reviewed: len(candidates)}
	var failed []error
	for _, c := range candidates {
		next, err := s.reviewLoan(ctx, c.ID, asOf)
		if err != nil {
			s.log.WithError(err).WithField("loan_id", c.ID).Error("Arrears review failed")
			failed = append(failed, fmt.Errorf("loan %d: %w", c.ID, err))
			continue
		}
		switch next {
		case models.LoanInArrears:
			review.Overdue = append(review.Overdue, c.ID)
		case models.LoanDisbursed:
			review.Cured = append(review.Cured, c.ID)
		}
	}

	s.log.WithFields(logrus.Fields{
		"reviewed": review.Reviewed,
		"overdue":  len(review.Overdue),
		"cured":    len(review.Cured),
	}).Info("Arrears review finished")
	return review, errors.Join(failed...)
}

// reviewLoan returns the status the loan moved to, or "" when unchanged.
func (s *Servicer) reviewLoan(ctx context.Context, loanID int64, asOf time.Time) (models.LoanStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var moved models.LoanStatus
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		open, err := unpaid(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		overdue := false
		for k := range open {
			if open[k].Overdue(asOf) {
				overdue = true
				break
			}
		}

		var next models.LoanStatus
		switch {
		case loan.Status == models.LoanDisbursed && overdue:
			next = models.LoanInArrears
		case loan.Status == models.LoanInArrears && !overdue:
			next = models.LoanDisbursed
		default:
			return nil
		}
		if err := transition(ctx, tx, loan, next); err != nil {
			return err
		}
		moved = next
		return nil
	})
	if err != nil {
		return "", repository.OpError("review loan", err)
	}
	if moved != "" {
		s.metrics.LoanTransition(string(moved))
	}
	return moved, nil
}

// CurrentLoan returns the account's most recent loan that is neither paid
// nor cancelled.
func (s *Servicer) CurrentLoan(ctx context.Context, accountID int64) (*models.Loan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var loan *models.Loan
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.CurrentLoan(ctx, accountID)
		return repository.NotFoundAs(err, errs.ErrLoanNotFound)
	})
	if err != nil {
		return nil, repository.OpError("current loan", err)
	}
	return loan, nil
}

// ListInstallments returns the loan and its installments ordered by sequence,
// read from one snapshot.
func (s *Servicer) ListInstallments(ctx context.Context, loanID int64) (*models.Loan, []models.Installment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		loan         *models.Loan
		installments []models.Installment
	)
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		loan, err = tx.FindLoan(ctx, loanID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrLoanNotFound)
		}
		installments, err = tx.ListInstallments(ctx, loanID)
		return err
	})
	if err != nil {
		return nil, nil, repository.OpError("list installments", err)
	}
	return loan, installments, nil
}

// Upcoming returns open installments of active loans due in [from, to) with
// the owner's contact.
func (s *Servicer) Upcoming(ctx context.Context, from, to time.Time) ([]models.InstallmentReminder, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []models.InstallmentReminder
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListUpcomingInstallments(ctx, from, to)
		return err
	})
	if err != nil {
		return nil, repository.OpError("upcoming installments", err)
	}
	return out, nil
}

// LoansByStatus lists loans in any of the given states.
func (s *Servicer) LoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.Loan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []models.Loan
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListLoansByStatus(ctx, statuses...)
		return err
	})
	if err != nil {
		return nil, repository.OpError("list loans", err)
	}
	return out, nil
}

func unpaid(ctx context.Context, tx repository.Tx, loanID int64) ([]models.Installment, error) {
	all, err := tx.ListInstallments(ctx, loanID)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, inst := range all {
		if !inst.Paid {
			open = append(open, inst)
		}
	}
	return open, nil
}

func transition(ctx context.Context, tx repository.Tx, loan *models.Loan, next models.LoanStatus) error {
	if !loan.Status.CanTransitionTo(next) {
		return errs.WithMessage(errs.ErrLoanNotActive,
			fmt.Sprintf("loan cannot move from %s to %s", loan.Status, next))
	}
	if err := tx.UpdateLoanStatus(ctx, loan.ID, next); err != nil {
		return err
	}
	loan.Status = next
	return nil
}
