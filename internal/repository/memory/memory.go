// Package memory is an in-process implementation of repository.Store.
//
// Units of work are serialized by a single mutex and run against a copy of the
// state that replaces the live state only on commit, so a failed unit leaves
// no trace. It is meant for tests and local runs, not for production load.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
)

// errActiveLoan mirrors the partial unique index on active loans.
var errActiveLoan = errs.Wrap(errs.ErrActiveLoanExists, errors.New("unique index on active loans"))

type state struct {
	users        map[int64]models.User
	accounts     map[int64]models.Account
	transactions []models.Transaction
	loans        map[int64]models.Loan
	installments map[int64]models.Installment
	seq          map[string]int64
}

func newState() *state {
	return &state{
		users:        map[int64]models.User{},
		accounts:     map[int64]models.Account{},
		loans:        map[int64]models.Loan{},
		installments: map[int64]models.Installment{},
		seq:          map[string]int64{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:        make(map[int64]models.User, len(s.users)),
		accounts:     make(map[int64]models.Account, len(s.accounts)),
		transactions: append([]models.Transaction(nil), s.transactions...),
		loans:        make(map[int64]models.Loan, len(s.loans)),
		installments: make(map[int64]models.Installment, len(s.installments)),
		seq:          make(map[string]int64, len(s.seq)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// Store is the in-memory repository.Store.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithinTx runs fn on a private copy of the state and commits it when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&memTx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// ReadOnly runs fn on a copy of the state that is always discarded.
func (s *Store) ReadOnly(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{st: s.state.clone(), now: s.now})
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// SetAccountStatus changes an account's soft state; there is no engine
// operation for blocking, so tests and admin tooling use this directly.
func (s *Store) SetAccountStatus(id int64, status models.AccountStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.accounts[id]
	if !ok {
		return false
	}
	a.Status = status
	s.state.accounts[id] = a
	return true
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) CreateUser(_ context.Context, user *models.User) error {
	for _, u := range t.st.users {
		if u.Document == user.Document {
			return repository.ErrDuplicate
		}
	}
	user.ID = t.st.next("users")
	user.CreatedAt = t.now()
	t.st.users[user.ID] = *user
	return nil
}

func (t *memTx) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) FindUserByDocument(_ context.Context, document string) (*models.User, error) {
	for _, u := range t.st.users {
		if u.Document == document {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *memTx) CreateAccount(_ context.Context, account *models.Account) error {
	if _, ok := t.st.users[account.UserID]; !ok {
		return repository.ErrNotFound
	}
	account.ID = t.st.next("accounts")
	account.Number = models.AccountNumber(account.ID)
	account.BalanceCents = 0
	if account.Status == "" {
		account.Status = models.AccountActive
	}
	account.CreatedAt = t.now()
	t.st.accounts[account.ID] = *account
	return nil
}

func (t *memTx) FindAccount(_ context.Context, id int64) (*models.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) ListAccountsByUser(_ context.Context, userID int64) ([]models.Account, error) {
	var out []models.Account
	for _, a := range t.st.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) LockAccounts(_ context.Context, ids ...int64) (map[int64]*models.Account, error) {
	out := make(map[int64]*models.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.st.accounts[id]; ok {
			a := a
			out[id] = &a
		}
	}
	return out, nil
}

func (t *memTx) ResolveAccount(_ context.Context, identifier string) (*models.Account, string, error) {
	var byDoc, byID *models.Account
	var docName, idName string
	for _, a := range t.st.accounts {
		owner := t.st.users[a.UserID]
		a := a
		if owner.Document == identifier && (byDoc == nil || a.ID < byDoc.ID) {
			byDoc, docName = &a, owner.Name
		}
		if strconv.FormatInt(a.ID, 10) == identifier {
			byID, idName = &a, owner.Name
		}
	}
	if byDoc != nil {
		return byDoc, docName, nil
	}
	if byID != nil {
		return byID, idName, nil
	}
	return nil, "", repository.ErrNotFound
}

func (t *memTx) AdjustBalance(_ context.Context, accountID, deltaCents int64) error {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	a.BalanceCents += deltaCents
	t.st.accounts[accountID] = a
	return nil
}

func (t *memTx) AccountSummary(_ context.Context, accountID int64) (*models.AccountSummary, error) {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	owner := t.st.users[a.UserID]
	return &models.AccountSummary{
		AccountID:    a.ID,
		OwnerName:    owner.Name,
		Number:       a.Number,
		Branch:       a.Branch,
		BalanceCents: a.BalanceCents,
		Balance:      models.FormatCents(a.BalanceCents),
		Status:       a.Status,
		PersonType:   owner.PersonType,
	}, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *models.Transaction) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	for _, id := range []*int64{tr.SourceAccountID, tr.DestinationAccountID} {
		if id != nil {
			if _, ok := t.st.accounts[*id]; !ok {
				return repository.ErrNotFound
			}
		}
	}
	tr.ID = t.st.next("transactions")
	tr.CreatedAt = t.now()
	t.st.transactions = append(t.st.transactions, *tr)
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for i := len(t.st.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		tr := t.st.transactions[i]
		if tr.SignedAmount(accountID) != 0 {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTx) HasActiveLoan(_ context.Context, accountID int64) (bool, error) {
	for _, l := range t.st.loans {
		if l.AccountID == accountID && l.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertLoan(ctx context.Context, loan *models.Loan) error {
	if loan.Status.IsActive() {
		active, _ := t.HasActiveLoan(ctx, loan.AccountID)
		if active {
			return errActiveLoan
		}
	}
	loan.ID = t.st.next("loans")
	t.st.loans[loan.ID] = *loan
	return nil
}

func (t *memTx) FindLoan(_ context.Context, id int64) (*models.Loan, error) {
	l, ok := t.st.loans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (t *memTx) LockLoan(ctx context.Context, id int64) (*models.Loan, error) {
	return t.FindLoan(ctx, id)
}

func (t *memTx) UpdateLoanStatus(_ context.Context, id int64, status models.LoanStatus) error {
	l, ok := t.st.loans[id]
	if !ok {
		return repository.ErrNotFound
	}
	l.Status = status
	t.st.loans[id] = l
	return nil
}

func (t *memTx) CurrentLoan(_ context.Context, accountID int64) (*models.Loan, error) {
	var cur *models.Loan
	for _, l := range t.st.loans {
		if l.AccountID != accountID || !l.Status.IsActive() {
			continue
		}
		l := l
		if cur == nil || l.CreatedAt.After(cur.CreatedAt) || (l.CreatedAt.Equal(cur.CreatedAt) && l.ID > cur.ID) {
			cur = &l
		}
	}
	if cur == nil {
		return nil, repository.ErrNotFound
	}
	return cur, nil
}

func (t *memTx) ListLoansByStatus(_ context.Context, statuses ...models.LoanStatus) ([]models.Loan, error) {
	var out []models.Loan
	for _, l := range t.st.loans {
		for _, s := range statuses {
			if l.Status == s {
				out = append(out, l)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertInstallments(_ context.Context, installments []models.Installment) error {
	for i := range installments {
		inst := &installments[i]
		if _, ok := t.st.loans[inst.LoanID]; !ok {
			return repository.ErrNotFound
		}
		inst.ID = t.st.next("installments")
		t.st.installments[inst.ID] = *inst
	}
	return nil
}

func (t *memTx) ListInstallments(_ context.Context, loanID int64) ([]models.Installment, error) {
	var out []models.Installment
	for _, inst := range t.st.installments {
		if inst.LoanID == loanID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (t *memTx) FindInstallment(ctx context.Context, id int64) (*models.Installment, error) {
	return t.LockInstallment(ctx, id)
}

func (t *memTx) LockInstallment(_ context.Context, id int64) (*models.Installment, error) {
	inst, ok := t.st.installments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inst, nil
}

func (t *memTx) MarkInstallmentsPaid(_ context.Context, ids ...int64) error {
	for _, id := range ids {
		inst, ok := t.st.installments[id]
		if !ok {
			return repository.ErrNotFound
		}
		inst.Paid = true
		t.st.installments[id] = inst
	}
	return nil
}

func (t *memTx) ListUpcomingInstallments(_ context.Context, from, to time.Time) ([]models.InstallmentReminder, error) {
	var out []models.InstallmentReminder
	for _, inst := range t.st.installments {
		if inst.Paid || inst.DueDate.Before(from) || !inst.DueDate.Before(to) {
			continue
		}
		loan := t.st.loans[inst.LoanID]
		if !loan.Status.IsActive() {
			continue
		}
		acct := t.st.accounts[loan.AccountID]
		owner := t.st.users[acct.UserID]
		out = append(out, models.InstallmentReminder{
			Installment: inst,
			AccountID:   acct.ID,
			OwnerName:   owner.Name,
			OwnerEmail:  owner.Email,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Installment.DueDate.Equal(out[j].Installment.DueDate) {
			return out[i].Installment.DueDate.Before(out[j].Installment.DueDate)
		}
		return out[i].Installment.ID < out[j].Installment.ID
	})
	return out, nil
}
