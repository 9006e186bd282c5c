package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/finpay/internal/config"
	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository/memory"
)

func newService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour, BranchCode: "0001"}
	return NewService(memory.New(), log, cfg)
}

func alice() Registration {
	return Registration{
		Name:               "Alice",
		Email:              "alice@example.com",
		Document:           "123.456.789-01",
		PersonType:         models.PersonIndividual,
		Password:           "s3cret!",
		MonthlyIncomeCents: 500000,
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	user, account, err := svc.Register(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "12345678901", user.Document)
	assert.NotEqual(t, "s3cret!", user.PasswordHash)
	assert.Equal(t, user.ID, account.UserID)
	assert.Equal(t, models.AccountNumber(account.ID), account.Number)
	assert.Equal(t, "0001", account.Branch)
	assert.Equal(t, int64(500000), account.MonthlyIncomeCents)

	_, _, err = svc.Register(ctx, alice())
	assert.ErrorIs(t, err, errs.ErrDuplicateDocument)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Registration)
		want   *errs.Error
	}{
		{"missing name", func(r *Registration) { r.Name = " " }, errs.ErrInvalidInput},
		{"bad email", func(r *Registration) { r.Email = "nope" }, errs.ErrInvalidInput},
		{"short password", func(r *Registration) { r.Password = "abc" }, errs.ErrInvalidInput},
		{"negative income", func(r *Registration) { r.MonthlyIncomeCents = -1 }, errs.ErrInvalidInput},
		{"income out of range", func(r *Registration) { r.MonthlyIncomeCents = MaxMonthlyIncomeCents + 1 }, errs.ErrInvalidInput},
		{"bad person type", func(r *Registration) { r.PersonType = "XX" }, errs.ErrInvalidInput},
		{"cnpj for individual", func(r *Registration) { r.Document = "12.345.678/0001-90" }, errs.ErrInvalidIdentifier},
		{"letters in document", func(r *Registration) { r.Document = "abc" }, errs.ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := alice()
			tt.mutate(&reg)
			_, _, err := newService(t).Register(context.Background(), reg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoginAndResolveCaller(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	user, _, err := svc.Register(ctx, alice())
	require.NoError(t, err)

	token, err := svc.Login(ctx, "12345678901", "s3cret!")
	require.NoError(t, err)

	userID, err := svc.ResolveCaller(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = svc.Login(ctx, "12345678901", "wrong")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "99999999999", "s3cret!")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestResolveCallerRejects(t *testing.T) {
	svc := newService(t)

	_, err := svc.ResolveCaller("garbage")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).
		SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = svc.ResolveCaller(other)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ResolveCaller(expired)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ResolveCaller(noSubject)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestAccountOwnership(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	a, first, err := svc.Register(ctx, alice())
	require.NoError(t, err)

	bob := alice()
	bob.Name, bob.Document, bob.Email = "Bob", "98765432100", "bob@example.com"
	_, bobAccount, err := svc.Register(ctx, bob)
	require.NoError(t, err)

	second, err := svc.CreateAccount(ctx, a.ID, 0)
	require.NoError(t, err)

	id, err := svc.AccountForCaller(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)

	id, err = svc.AccountForCaller(ctx, a.ID, &second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	_, err = svc.AccountForCaller(ctx, a.ID, &bobAccount.ID)
	assert.ErrorIs(t, err, errs.ErrAccountMismatch)

	missing := int64(999)
	_, err = svc.AccountForCaller(ctx, a.ID, &missing)
	assert.ErrorIs(t, err, errs.ErrAccountNotFound)

	summary, err := svc.GetAccount(ctx, a.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", summary.OwnerName)
	assert.Equal(t, "0.00", summary.Balance)

	_, err = svc.GetAccount(ctx, a.ID, bobAccount.ID)
	assert.ErrorIs(t, err, errs.ErrAccountMismatch)

	summary, err = svc.GetAccountSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, summary.AccountID)

	_, err = svc.CreateAccount(ctx, 12345, 0)
	assert.ErrorIs(t, err, errs.ErrUserNotFound)

	_, err = svc.CreateAccount(ctx, a.ID, MaxMonthlyIncomeCents+1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
