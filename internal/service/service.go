package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Dan9191/finpay/internal/config"
	"github.com/Dan9191/finpay/internal/errs"
	"github.com/Dan9191/finpay/internal/models"
	"github.com/Dan9191/finpay/internal/repository"
	"github.com/Dan9191/finpay/internal/utils"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

// MaxMonthlyIncomeCents bounds the declared income so that loan limits derived
// from it stay within int64 cents.
const MaxMonthlyIncomeCents int64 = 1_000_000_000_000_000

// dummyHash is compared against when the document is unknown so that both
// login failures cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("finpay-dummy-password"), bcrypt.MinCost)

// Service handles identity: registration, sessions and account ownership.
type Service struct {
	store  repository.Store
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{store: store, log: log, config: cfg, now: time.Now}
}

func checkIncome(cents int64) error {
	switch {
	case cents < 0:
		return errs.WithMessage(errs.ErrInvalidInput, "monthly income cannot be negative")
	case cents > MaxMonthlyIncomeCents:
		return errs.WithMessage(errs.ErrInvalidInput, "monthly income is out of range")
	}
	return nil
}

// Registration is the input of Register.
type Registration struct {
	Name               string
	Email              string
	Phone              string
	Document           string
	PersonType         models.PersonType
	Password           string
	MonthlyIncomeCents int64
}

func (r *Registration) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	if r.PersonType == "" {
		r.PersonType = models.PersonIndividual
	}

	switch {
	case r.Name == "":
		return errs.WithMessage(errs.ErrInvalidInput, "name is required")
	case !r.PersonType.Valid():
		return errs.WithMessage(errs.ErrInvalidInput, "person type must be PF or PJ")
	case len(r.Password) < MinPasswordLength:
		return errs.WithMessage(errs.ErrInvalidInput, fmt.Sprintf("password must have at least %d characters", MinPasswordLength))
	}
	if err := checkIncome(r.MonthlyIncomeCents); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errs.WithMessage(errs.ErrInvalidInput, "email is invalid")
	}

	doc, err := utils.NormalizeDocument(r.Document)
	if err != nil || !utils.ValidDocumentFor(r.PersonType, doc) {
		return errs.WithMessage(errs.ErrInvalidIdentifier, "document is not a valid CPF/CNPJ")
	}
	r.Document = doc
	return nil
}

// Register creates a user with a hashed password and its first account in
// one unit of work.
func (s *Service) Register(ctx context.Context, reg Registration) (*models.User, *models.Account, error) {
	if err := reg.normalize(); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, nil, errs.WithMessage(errs.ErrInvalidInput, "password is too long")
		}
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         reg.Name,
		Email:        reg.Email,
		Phone:        reg.Phone,
		Document:     reg.Document,
		PersonType:   reg.PersonType,
		PasswordHash: string(hashedPassword),
	}
	account := &models.Account{
		Branch:             s.config.BranchCode,
		MonthlyIncomeCents: reg.MonthlyIncomeCents,
		Status:             models.AccountActive,
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errs.ErrDuplicateDocument
			}
			return err
		}
		account.UserID = user.ID
		return tx.CreateAccount(ctx, account)
	})
	if err != nil {
		return nil, nil, repository.OpError("register", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "account_id": account.ID}).Info("User registered")
	return user, account, nil
}

// Login checks the credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, document, password string) (string, error) {
	doc, err := utils.NormalizeDocument(document)
	if err != nil {
		return "", errs.ErrInvalidCredentials
	}

	var user *models.User
	err = s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		var err error
		user, err = tx.FindUserByDocument(ctx, doc)
		return err
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", repository.OpError("login", err)
	}

	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", errs.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", errs.ErrInvalidCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.WithField("user_id", user.ID).Info("User logged in")
	return tokenString, nil
}

// ResolveCaller verifies a session token and returns the user id it names.
func (s *Service) ResolveCaller(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return 0, errs.Wrap(errs.ErrUnauthenticated, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errs.ErrUnauthenticated
	}
	return userID, nil
}

// CreateAccount opens another account for an existing user.
func (s *Service) CreateAccount(ctx context.Context, userID, monthlyIncomeCents int64) (*models.Account, error) {
	if err := checkIncome(monthlyIncomeCents); err != nil {
		return nil, err
	}
	account := &models.Account{
		UserID:             userID,
		Branch:             s.config.BranchCode,
		MonthlyIncomeCents: monthlyIncomeCents,
		Status:             models.AccountActive,
	}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindUserByID(ctx, userID); err != nil {
			return repository.NotFoundAs(err, errs.ErrUserNotFound)
		}
		return tx.CreateAccount(ctx, account)
	})
	if err != nil {
		return nil, repository.OpError("create account", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "account_id": account.ID}).Info("Account created")
	return account, nil
}

// GetAccount returns the summary of an account the caller owns.
func (s *Service) GetAccount(ctx context.Context, userID, accountID int64) (*models.AccountSummary, error) {
	var summary *models.AccountSummary
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		acc, err := tx.FindAccount(ctx, accountID)
		if err != nil {
			return repository.NotFoundAs(err, errs.ErrAccountNotFound)
		}
		if acc.UserID != userID {
			return errs.ErrAccountMismatch
		}
		summary, err = tx.AccountSummary(ctx, accountID)
		return repository.NotFoundAs(err, errs.ErrAccountNotFound)
	})
	if err != nil {
		return nil, repository.OpError("get account", err)
	}
	return summary, nil
}

// GetAccountSummary returns the summary of the caller's first account.
func (s *Service) GetAccountSummary(ctx context.Context, userID int64) (*models.AccountSummary, error) {
	var summary *models.AccountSummary
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		accounts, err := tx.ListAccountsByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return errs.ErrAccountNotFound
		}
		summary, err = tx.AccountSummary(ctx, accounts[0].ID)
		return repository.NotFoundAs(err, errs.ErrAccountNotFound)
	})
	if err != nil {
		return nil, repository.OpError("account summary", err)
	}
	return summary, nil
}

// AccountForCaller picks the account an operation acts on. With no requested
// id it is the caller's first account. A requested account owned by someone
// else gives ErrAccountMismatch, and an unknown one ErrAccountNotFound.
func (s *Service) AccountForCaller(ctx context.Context, userID int64, requested *int64) (int64, error) {
	var accountID int64
	err := s.store.ReadOnly(ctx, func(tx repository.Tx) error {
		accounts, err := tx.ListAccountsByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return errs.ErrAccountNotFound
		}
		if requested == nil {
			accountID = accounts[0].ID
			return nil
		}
		for _, a := range accounts {
			if a.ID == *requested {
				accountID = a.ID
				return nil
			}
		}
		if _, err := tx.FindAccount(ctx, *requested); err != nil {
			return repository.NotFoundAs(err, errs.ErrAccountNotFound)
		}
		return errs.ErrAccountMismatch
	})
	if err != nil {
		return 0, repository.OpError("resolve account", err)
	}
	return accountID, nil
}
