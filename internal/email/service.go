// Package email sends payment notifications over SMTP using inline HTML
// templates. When SMTP is not configured the service runs disabled and
// every send is a logged no-op, so payments never depend on mail delivery.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/config"
	"github.com/vetstack/practice-payments-api/internal/logger"
)

type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string
	enabled      bool
	templates    map[string]*template.Template

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type emailData struct {
	To          string
	Subject     string
	TemplateKey string
	Data        interface{}
}

func NewService(cfg *config.Config) *Service {
	service := &Service{
		smtpHost:     cfg.SMTPHost,
		smtpPort:     cfg.SMTPPort,
		smtpUsername: cfg.SMTPUsername,
		smtpPassword: cfg.SMTPPassword,
		fromEmail:    cfg.FromEmail,
		fromName:     cfg.FromName,
		enabled:      cfg.SMTPHost != "" && cfg.FromEmail != "",
		templates:    make(map[string]*template.Template),
		send:         smtp.SendMail,
	}

	for key, text := range map[string]string{
		"payment_receipt": receiptTemplate,
		"payment_failure": failureTemplate,
	} {
		service.templates[key] = template.Must(template.New(key).Parse(text))
	}

	if !service.enabled {
		logger.L().Info("email service disabled, SMTP not configured")
	}
	return service
}

func (s *Service) sendEmail(data emailData) error {
	if !s.enabled {
		logger.L().Debug("email suppressed",
			zap.String("template", data.TemplateKey),
			zap.String("subject", data.Subject))
		return nil
	}

	tmpl, ok := s.templates[data.TemplateKey]
	if !ok {
		return fmt.Errorf("template %s not found", data.TemplateKey)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data.Data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	message := fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s", s.fromName, s.fromEmail, data.To, data.Subject, body.String())

	auth := smtp.PlainAuth("", s.smtpUsername, s.smtpPassword, s.smtpHost)
	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)

	if err := s.send(addr, auth, s.fromEmail, []string{data.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type receiptData struct {
	Amount        string
	Currency      string
	TransactionID string
}

// PaymentReceipt confirms a settled marketplace charge.
func (s *Service) PaymentReceipt(toEmail string, amount decimal.Decimal, currency, transactionID string) error {
	return s.sendEmail(emailData{
		To:          toEmail,
		Subject:     fmt.Sprintf("Payment received: %s %s", amount.StringFixed(2), currency),
		TemplateKey: "payment_receipt",
		Data: receiptData{
			Amount:        amount.StringFixed(2),
			Currency:      currency,
			TransactionID: transactionID,
		},
	})
}

type failureData struct {
	Amount        string
	Currency      string
	TransactionID string
	Reason        string
}

// PaymentFailureAlert notifies the payer that a charge could not be
// initiated.
func (s *Service) PaymentFailureAlert(toEmail string, amount decimal.Decimal, currency, transactionID, reason string) error {
	return s.sendEmail(emailData{
		To:          toEmail,
		Subject:     "Payment failed",
		TemplateKey: "payment_failure",
		Data: failureData{
			Amount:        amount.StringFixed(2),
			Currency:      currency,
			TransactionID: transactionID,
			Reason:        reason,
		},
	})
}

const receiptTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Payment received</h2>
  <p>We received your payment of <strong>{{.Amount}} {{.Currency}}</strong>.</p>
  <p>Transaction reference: {{.TransactionID}}</p>
  <p>Thank you for your business.</p>
</body>
</html>`

const failureTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Payment failed</h2>
  <p>Your payment of <strong>{{.Amount}} {{.Currency}}</strong> could not be processed.</p>
  <p>Reason: {{.Reason}}</p>
  <p>Transaction reference: {{.TransactionID}}</p>
  <p>No charge was made. Please try again or contact support.</p>
</body>
</html>`
