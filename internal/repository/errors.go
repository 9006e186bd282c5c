package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/Dan9191/finpay/internal/errs"
)

const activeLoanIndex = "uq_loans_active_account"

// mapError turns driver failures into the engine's error kinds. Timeouts,
// cancellations, lost connections, pool exhaustion and lock conflicts become
// ErrUnavailable; they are not retried here.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return errs.Wrap(errs.ErrUnavailable, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505" && pqErr.Constraint == activeLoanIndex:
			return errs.Wrap(errs.ErrActiveLoanExists, err)
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "55P03":
			// serialization_failure, deadlock_detected, lock_not_available
			return errs.Wrap(errs.ErrUnavailable, err)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention (incl. query_canceled)
			return errs.Wrap(errs.ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.ErrUnavailable, err)
	}
	return err
}

// NotFoundAs replaces ErrNotFound with the caller-facing sentinel.
func NotFoundAs(err error, sentinel *errs.Error) error {
	if errors.Is(err, ErrNotFound) {
		return sentinel
	}
	return err
}

// OpError passes engine errors through, turns an expired or canceled context
// into ErrUnavailable and wraps anything else with op.
func OpError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
