package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/mcclellann/microloans/pkg/config"
	"github.com/mcclellann/microloans/pkg/ledger"
	"github.com/mcclellann/microloans/pkg/models"
	"github.com/sirupsen/logrus"
)

// Sender e-mails the daily digest of loans that are due or overdue.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send:   (*email.Email).Send,
	}
}

// SendDueAlerts mails the digest for alerts. Nothing is sent when sending is
// disabled, there are no recipients or there is nothing to report.
func (s *Sender) SendDueAlerts(alerts []ledger.DueAlert, today models.Date) error {
	if !s.cfg.EmailEnabled || len(s.cfg.AlertEmails) == 0 {
		s.logger.Debug("alert e-mail disabled, skipping digest")
		return nil
	}
	if len(alerts) == 0 {
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = s.cfg.AlertEmails
	subject, body := composeDigest(alerts, today)
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.WithError(err).Error("failed to send alert digest")
		return fmt.Errorf("failed to send alert digest: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"alerts": len(alerts), "to": strings.Join(e.To, ",")}).Info("alert digest sent")
	return nil
}

func composeDigest(alerts []ledger.DueAlert, today models.Date) (string, string) {
	var overdue, critical []ledger.DueAlert
	for _, a := range alerts {
		switch a.Tier {
		case models.AlertOverdue:
			overdue = append(overdue, a)
		case models.AlertCritical:
			critical = append(critical, a)
		}
	}

	subject := fmt.Sprintf("Alertas de cobranza %s: %d vencidos, %d por vencer", today, len(overdue), len(critical))

	var b strings.Builder
	writeSection := func(title string, list []ledger.DueAlert) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s (%d)\n", title, len(list))
		for _, a := range list {
			fmt.Fprintf(&b, "- %s, tel. %s: saldo %s, vence %s (%d dias)", a.ClientName, a.ClientPhone,
				a.Balance.StringFixed(2), a.EndDate, a.DaysRemaining)
			if a.WorkerName != "" {
				fmt.Fprintf(&b, ", cobrador %s", a.WorkerName)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	writeSection("Prestamos vencidos", overdue)
	writeSection("Prestamos por vencer", critical)
	return subject, b.String()
}
