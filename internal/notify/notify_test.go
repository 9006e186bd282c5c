package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/finpay/internal/config"
	"github.com/Dan9191/finpay/internal/models"
)

func reminder() models.InstallmentReminder {
	return models.InstallmentReminder{
		Installment: models.Installment{
			ID:          9,
			LoanID:      3,
			Sequence:    2,
			DueDate:     time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
			AmountCents: 11262,
		},
		AccountID:  5,
		OwnerName:  "Alice",
		OwnerEmail: "alice@example.com",
	}
}

func newTestSender(t *testing.T) (*Sender, *[]*email.Email) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := NewSender(&config.Config{SMTPHost: "smtp.test", SMTPPort: "25", SenderEmail: "bank@test"}, log)
	var sent []*email.Email
	s.send = func(e *email.Email) error {
		sent = append(sent, e)
		return nil
	}
	return s, &sent
}

func TestInstallmentDue(t *testing.T) {
	s, sent := newTestSender(t)
	require.NoError(t, s.InstallmentDue(context.Background(), reminder()))
	require.Len(t, *sent, 1)

	e := (*sent)[0]
	assert.Equal(t, "bank@test", e.From)
	assert.Equal(t, []string{"alice@example.com"}, e.To)
	assert.Equal(t, "Upcoming Loan Installment", e.Subject)
	assert.Contains(t, string(e.Text), "Installment 2 of loan 3, amount 112.62, is due on 2025-03-31")
	assert.Contains(t, string(e.Text), "account 00000005")
}

func TestInstallmentOverdue(t *testing.T) {
	s, sent := newTestSender(t)
	require.NoError(t, s.InstallmentOverdue(context.Background(), reminder()))
	require.Len(t, *sent, 1)
	assert.Equal(t, "Overdue Loan Installment", (*sent)[0].Subject)
	assert.Contains(t, string((*sent)[0].Text), "was due on 2025-03-31")
}

func TestDeliveryFailure(t *testing.T) {
	s, _ := newTestSender(t)
	s.send = func(*email.Email) error { return errors.New("connection refused") }
	assert.Error(t, s.InstallmentDue(context.Background(), reminder()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.InstallmentDue(ctx, reminder()), context.Canceled)
}

func TestNewPicksNoopWithoutSMTP(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	assert.IsType(t, Noop{}, New(&config.Config{}, log))
	assert.IsType(t, &Sender{}, New(&config.Config{SMTPHost: "smtp.test"}, log))
}
