package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Dan9191/finpay/internal/models"
)

// Postgres is the Store backed by a PostgreSQL database through lib/pq.
type Postgres struct {
	db               *sql.DB
	statementTimeout time.Duration
	lockTimeout      time.Duration
}

// NewPostgres wraps an open pool. Timeouts of zero leave the server defaults.
func NewPostgres(db *sql.DB, statementTimeout, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, statementTimeout: statementTimeout, lockTimeout: lockTimeout}
}

// WithinTx runs fn in a read-committed transaction. Conflicting writers are
// serialized through the row locks taken by the Lock* methods.
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

// ReadOnly runs fn in a repeatable-read, read-only transaction.
func (p *Postgres) ReadOnly(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

// Ping checks the connection to the database.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return mapError(fmt.Errorf("ping: %w", err))
	}
	return nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) run(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}

	if err := p.setTimeouts(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (p *Postgres) setTimeouts(ctx context.Context, tx *sql.Tx) error {
	if p.statementTimeout > 0 {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('statement_timeout', $1, true)`,
			fmt.Sprintf("%dms", p.statementTimeout.Milliseconds())); err != nil {
			return mapError(fmt.Errorf("set statement timeout: %w", err))
		}
	}
	if p.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", p.lockTimeout.Milliseconds())); err != nil {
			return mapError(fmt.Errorf("set lock timeout: %w", err))
		}
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const accountColumns = `id, user_id, number, branch, balance_cents, monthly_income_cents, status, created_at`

const loanColumns = `id, account_id, principal_cents, annual_rate_pct, term_months, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Number, &a.Branch, &a.BalanceCents, &a.MonthlyIncomeCents, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	l := &models.Loan{}
	err := row.Scan(&l.ID, &l.AccountID, &l.PrincipalCents, &l.AnnualRatePct, &l.TermMonths, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var phone sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &phone, &u.Document, &u.PersonType, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Phone = phone.String
	return u, nil
}

// one maps sql.ErrNoRows to ErrNotFound and everything else through mapError.
func one(err error, what string) error {
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return mapError(fmt.Errorf("%s: %w", what, err))
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return models.ID64(v.Int64)
}

func statusStrings(statuses []models.LoanStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CreateUser creates a new user in the database
func (t *pgTx) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (name, email, phone, document, person_type, password_hash, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := t.tx.QueryRowContext(ctx, query, user.Name, user.Email, user.Phone, user.Document, user.PersonType, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

// FindUserByID retrieves a user by id
func (t *pgTx) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, name, email, phone, document, person_type, password_hash, created_at
		FROM users
		WHERE id = $1`
	u, err := scanUser(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, one(err, "failed to find user")
	}
	return u, nil
}

// FindUserByDocument retrieves a user by tax document
func (t *pgTx) FindUserByDocument(ctx context.Context, document string) (*models.User, error) {
	query := `
		SELECT id, name, email, phone, document, person_type, password_hash, created_at
		FROM users
		WHERE document = $1`
	u, err := scanUser(t.tx.QueryRowContext(ctx, query, document))
	if err != nil {
		return nil, one(err, "failed to find user")
	}
	return u, nil
}

// CreateAccount creates a new account in the database
func (t *pgTx) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (user_id, branch, balance_cents, monthly_income_cents, status, created_at)
		VALUES ($1, $2, 0, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, number, balance_cents, created_at`
	status := account.Status
	if status == "" {
		status = models.AccountActive
	}
	err := t.tx.QueryRowContext(ctx, query, account.UserID, account.Branch, account.MonthlyIncomeCents, status).
		Scan(&account.ID, &account.Number, &account.BalanceCents, &account.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to create account: %w", err))
	}
	account.Status = status
	return nil
}

func (t *pgTx) FindAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, one(err, "failed to find account")
	}
	return a, nil
}

func (t *pgTx) ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list accounts: %w", err))
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("failed to scan account: %w", err))
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to list accounts: %w", err))
	}
	return out, nil
}

// LockAccounts takes FOR UPDATE locks in id order so that concurrent
// transfers between the same pair of accounts cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*models.Account, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to lock accounts: %w", err))
	}
	defer rows.Close()

	out := make(map[int64]*models.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("failed to scan account: %w", err))
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to lock accounts: %w", err))
	}
	return out, nil
}

func (t *pgTx) ResolveAccount(ctx context.Context, identifier string) (*models.Account, string, error) {
	query := `
		SELECT c.id, c.user_id, c.number, c.branch, c.balance_cents, c.monthly_income_cents, c.status, c.created_at, u.name
		FROM accounts c
		JOIN users u ON u.id = c.user_id
		WHERE u.document = $1 OR c.id::text = $1
		ORDER BY (u.document = $1) DESC, c.id
		LIMIT 1`
	a := &models.Account{}
	var name string
	err := t.tx.QueryRowContext(ctx, query, identifier).
		Scan(&a.ID, &a.UserID, &a.Number, &a.Branch, &a.BalanceCents, &a.MonthlyIncomeCents, &a.Status, &a.CreatedAt, &name)
	if err != nil {
		return nil, "", one(err, "failed to resolve account")
	}
	return a, name, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, accountID, deltaCents int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2`, deltaCents, accountID)
	if err != nil {
		return mapError(fmt.Errorf("failed to update balance: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(fmt.Errorf("failed to update balance: %w", err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AccountSummary(ctx context.Context, accountID int64) (*models.AccountSummary, error) {
	query := `
		SELECT c.id, u.name, c.number, c.branch, c.balance_cents, c.status, u.person_type
		FROM accounts c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1`
	s := &models.AccountSummary{}
	err := t.tx.QueryRowContext(ctx, query, accountID).
		Scan(&s.AccountID, &s.OwnerName, &s.Number, &s.Branch, &s.BalanceCents, &s.Status, &s.PersonType)
	if err != nil {
		return nil, one(err, "failed to load account summary")
	}
	s.Balance = models.FormatCents(s.BalanceCents)
	return s, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	query := `
		INSERT INTO transactions (source_account_id, destination_account_id, merchant_id, kind, amount_cents, status, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := t.tx.QueryRowContext(ctx, query,
		nullInt(tr.SourceAccountID), nullInt(tr.DestinationAccountID), nullInt(tr.MerchantID),
		tr.Kind, tr.AmountCents, tr.Status, tr.Reference).
		Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert transaction: %w", err))
	}
	return nil
}

func (t *pgTx) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	query := `
		SELECT id, source_account_id, destination_account_id, merchant_id, kind, amount_cents, status, reference, created_at
		FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	rows, err := t.tx.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list transactions: %w", err))
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tr models.Transaction
		var src, dst, merchant sql.NullInt64
		if err := rows.Scan(&tr.ID, &src, &dst, &merchant, &tr.Kind, &tr.AmountCents, &tr.Status, &tr.Reference, &tr.CreatedAt); err != nil {
			return nil, mapError(fmt.Errorf("failed to scan transaction: %w", err))
		}
		tr.SourceAccountID, tr.DestinationAccountID, tr.MerchantID = ptrInt(src), ptrInt(dst), ptrInt(merchant)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to list transactions: %w", err))
	}
	return out, nil
}

func (t *pgTx) HasActiveLoan(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM loans WHERE account_id = $1 AND status = ANY($2))`,
		accountID, pq.Array(statusStrings(models.ActiveLoanStatuses))).Scan(&exists)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check active loan: %w", err))
	}
	return exists, nil
}

func (t *pgTx) InsertLoan(ctx context.Context, loan *models.Loan) error {
	query := `
		INSERT INTO loans (account_id, principal_cents, annual_rate_pct, term_months, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`
	err := t.tx.QueryRowContext(ctx, query,
		loan.AccountID, loan.PrincipalCents, loan.AnnualRatePct, loan.TermMonths, loan.Status, loan.CreatedAt).
		Scan(&loan.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert loan: %w", err))
	}
	return nil
}

func (t *pgTx) FindLoan(ctx context.Context, id int64) (*models.Loan, error) {
	l, err := scanLoan(t.tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		return nil, one(err, "failed to find loan")
	}
	return l, nil
}

func (t *pgTx) LockLoan(ctx context.Context, id int64) (*models.Loan, error) {
	l, err := scanLoan(t.tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, one(err, "failed to lock loan")
	}
	return l, nil
}

func (t *pgTx) UpdateLoanStatus(ctx context.Context, id int64, status models.LoanStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE loans SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, status, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update loan status: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CurrentLoan(ctx context.Context, accountID int64) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
		WHERE account_id = $1 AND status NOT IN ('paid', 'cancelled')
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	l, err := scanLoan(t.tx.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, one(err, "failed to find current loan")
	}
	return l, nil
}

func (t *pgTx) ListLoansByStatus(ctx context.Context, statuses ...models.LoanStatus) ([]models.Loan, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status = ANY($1) ORDER BY id`,
		pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list loans: %w", err))
	}
	defer rows.Close()

	var out []models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("failed to scan loan: %w", err))
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to list loans: %w", err))
	}
	return out, nil
}

func (t *pgTx) InsertInstallments(ctx context.Context, installments []models.Installment) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO installments (loan_id, sequence, due_date, amount_cents, paid)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`)
	if err != nil {
		return mapError(fmt.Errorf("failed to prepare installment insert: %w", err))
	}
	defer stmt.Close()

	for i := range installments {
		inst := &installments[i]
		if err := stmt.QueryRowContext(ctx, inst.LoanID, inst.Sequence, inst.DueDate, inst.AmountCents, inst.Paid).
			Scan(&inst.ID); err != nil {
			return mapError(fmt.Errorf("failed to insert installment %d: %w", inst.Sequence, err))
		}
	}
	return nil
}

func (t *pgTx) ListInstallments(ctx context.Context, loanID int64) ([]models.Installment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, loan_id, sequence, due_date, amount_cents, paid
		FROM installments
		WHERE loan_id = $1
		ORDER BY sequence`, loanID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list installments: %w", err))
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		var inst models.Installment
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.DueDate, &inst.AmountCents, &inst.Paid); err != nil {
			return nil, mapError(fmt.Errorf("failed to scan installment: %w", err))
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to list installments: %w", err))
	}
	return out, nil
}

const installmentByID = `
		SELECT id, loan_id, sequence, due_date, amount_cents, paid
		FROM installments
		WHERE id = $1`

func (t *pgTx) FindInstallment(ctx context.Context, id int64) (*models.Installment, error) {
	inst := &models.Installment{}
	err := t.tx.QueryRowContext(ctx, installmentByID, id).
		Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.DueDate, &inst.AmountCents, &inst.Paid)
	if err != nil {
		return nil, one(err, "failed to find installment")
	}
	return inst, nil
}

func (t *pgTx) LockInstallment(ctx context.Context, id int64) (*models.Installment, error) {
	inst := &models.Installment{}
	err := t.tx.QueryRowContext(ctx, installmentByID+` FOR UPDATE`, id).
		Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.DueDate, &inst.AmountCents, &inst.Paid)
	if err != nil {
		return nil, one(err, "failed to lock installment")
	}
	return inst, nil
}

func (t *pgTx) MarkInstallmentsPaid(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE installments SET paid = TRUE, paid_at = CURRENT_TIMESTAMP WHERE id = ANY($1) AND NOT paid`,
		pq.Array(ids))
	if err != nil {
		return mapError(fmt.Errorf("failed to mark installments paid: %w", err))
	}
	return nil
}

func (t *pgTx) ListUpcomingInstallments(ctx context.Context, from, to time.Time) ([]models.InstallmentReminder, error) {
	query := `
		SELECT i.id, i.loan_id, i.sequence, i.due_date, i.amount_cents, i.paid, c.id, u.name, u.email
		FROM installments i
		JOIN loans l ON l.id = i.loan_id
		JOIN accounts c ON c.id = l.account_id
		JOIN users u ON u.id = c.user_id
		WHERE NOT i.paid
		  AND l.status = ANY($1)
		  AND i.due_date >= $2 AND i.due_date < $3
		ORDER BY i.due_date, i.id`
	rows, err := t.tx.QueryContext(ctx, query, pq.Array(statusStrings(models.ActiveLoanStatuses)), from, to)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list upcoming installments: %w", err))
	}
	defer rows.Close()

	var out []models.InstallmentReminder
	for rows.Next() {
		var r models.InstallmentReminder
		inst := &r.Installment
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.DueDate, &inst.AmountCents, &inst.Paid,
			&r.AccountID, &r.OwnerName, &r.OwnerEmail); err != nil {
			return nil, mapError(fmt.Errorf("failed to scan installment: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("failed to list upcoming installments: %w", err))
	}
	return out, nil
}
