package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/finpay/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness rule other
// than the active-loan index (for example a second user with the same document).
var ErrDuplicate = errors.New("duplicate")

// Store opens units of work. Every method of Tx used inside fn runs on the
// same connection and transaction; fn's error rolls the unit back.
type Store interface {
	// WithinTx runs fn in a read-write transaction. Rows locked through the
	// Lock* methods stay locked until commit or rollback.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// ReadOnly runs fn in a read-only transaction over a consistent snapshot.
	ReadOnly(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of reads and writes the engine performs inside a unit of work.
type Tx interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByDocument(ctx context.Context, document string) (*models.User, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error)
	// LockAccounts locks the given accounts in ascending id order and returns
	// those that exist, keyed by id.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*models.Account, error)
	// ResolveAccount finds the account whose owner has the given document or
	// whose id, as text, equals identifier. It also returns the owner's name.
	ResolveAccount(ctx context.Context, identifier string) (*models.Account, string, error)
	AdjustBalance(ctx context.Context, accountID, deltaCents int64) error
	AccountSummary(ctx context.Context, accountID int64) (*models.AccountSummary, error)

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)

	HasActiveLoan(ctx context.Context, accountID int64) (bool, error)
	InsertLoan(ctx context.Context, loan *models.Loan) error
	FindLoan(ctx context.Context, id int64) (*models.Loan, error)
	LockLoan(ctx context.Context, id int64) (*models.Loan, error)
	UpdateLoanStatus(ctx context.Context, id int64, status models.LoanStatus) error
	// CurrentLoan returns the most recent loan of the account that is neither
	// paid nor cancelled.
	CurrentLoan(ctx context.Context, accountID int64) (*models.Loan, error)
	ListLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.Loan, error)

	InsertInstallments(ctx context.Context, installments []models.Installment) error
	ListInstallments(ctx context.Context, loanID int64) ([]models.Installment, error)
	FindInstallment(ctx context.Context, id int64) (*models.Installment, error)
	// LockInstallment must be called after the owning loan is locked; loan
	// before installment before account is the lock order for every writer.
	LockInstallment(ctx context.Context, id int64) (*models.Installment, error)
	MarkInstallmentsPaid(ctx context.Context, ids ...int64) error
	// ListUpcomingInstallments returns unpaid installments of active loans due
	// in [from, to), joined with the owner's contact.
	ListUpcomingInstallments(ctx context.Context, from, to time.Time) ([]models.InstallmentReminder, error)
}
