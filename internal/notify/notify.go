// Package notify e-mails borrowers about their installments.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/config"
	"github.com/Dan9191/finpay/internal/models"
)

// Notifier delivers installment notices.
type Notifier interface {
	InstallmentDue(ctx context.Context, r models.InstallmentReminder) error
	InstallmentOverdue(ctx context.Context, r models.InstallmentReminder) error
}

// Sender handles sending emails via SMTP
type Sender struct {
	from   string
	addr   string
	auth   smtp.Auth
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		from:   cfg.SenderEmail,
		addr:   fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort),
		logger: logger,
	}
	if cfg.SMTPUsername != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	s.send = func(e *email.Email) error { return e.Send(s.addr, s.auth) }
	return s
}

// New returns an SMTP sender when e-mail is configured and a Noop otherwise.
func New(cfg *config.Config, logger *logrus.Logger) Notifier {
	if !cfg.SMTPEnabled() {
		return Noop{}
	}
	return NewSender(cfg, logger)
}

// InstallmentDue sends a reminder for an upcoming installment.
func (s *Sender) InstallmentDue(ctx context.Context, r models.InstallmentReminder) error {
	return s.deliver(ctx, s.reminder(r, false))
}

// InstallmentOverdue sends a notice for an installment past its due date.
func (s *Sender) InstallmentOverdue(ctx context.Context, r models.InstallmentReminder) error {
	return s.deliver(ctx, s.reminder(r, true))
}

func (s *Sender) reminder(r models.InstallmentReminder, overdue bool) *email.Email {
	e := email.NewEmail()
	e.From = s.from
	e.To = []string{r.OwnerEmail}
	if overdue {
		e.Subject = "Overdue Loan Installment"
	} else {
		e.Subject = "Upcoming Loan Installment"
	}

	inst := r.Installment
	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\n", r.OwnerName)
	if overdue {
		fmt.Fprintf(&body,
			"Installment %d of loan %d, amount %s, was due on %s and is still open.\n"+
				"Please pay it as soon as possible.\n",
			inst.Sequence, inst.LoanID, models.FormatCents(inst.AmountCents), inst.DueDate.Format("2006-01-02"))
	} else {
		fmt.Fprintf(&body,
			"Installment %d of loan %d, amount %s, is due on %s.\n"+
				"Please ensure sufficient funds are available in account %s.\n",
			inst.Sequence, inst.LoanID, models.FormatCents(inst.AmountCents), inst.DueDate.Format("2006-01-02"),
			models.AccountNumber(r.AccountID))
	}
	body.WriteString("\nBest regards,\nFinPay")
	e.Text = []byte(body.String())
	return e
}

func (s *Sender) deliver(ctx context.Context, e *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.send(e); err != nil {
		s.logger.WithError(err).WithField("to", e.To).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"to": e.To, "subject": e.Subject}).Info("Email sent")
	return nil
}

// Noop discards every notice.
type Noop struct{}

func (Noop) InstallmentDue(context.Context, models.InstallmentReminder) error     { return nil }
func (Noop) InstallmentOverdue(context.Context, models.InstallmentReminder) error { return nil }
