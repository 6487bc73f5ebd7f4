// Package notify sends out-of-band deposit confirmations to wallet owners.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/pkg/security"
)

const sendTimeout = 30 * time.Second

// EmailConfig holds email service configuration
type EmailConfig struct {
	Provider  string // "sendgrid" or "log"
	APIKey    string
	FromEmail string
	FromName  string
}

// Mailer delivers a rendered message
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlContent, textContent string) error
}

// EmailService delivers email through the configured provider
type EmailService struct {
	logger *zap.Logger
	config EmailConfig
	client *sendgrid.Client
}

// NewEmailService creates a new email service
func NewEmailService(logger *zap.Logger, config EmailConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		return nil, fmt.Errorf("email provider is required")
	}
	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	config.Provider = provider

	var client *sendgrid.Client
	switch provider {
	case "sendgrid":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(config.APIKey)
	case "log":
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}

	return &EmailService{logger: logger, config: config, client: client}, nil
}

// Send delivers a single message
func (e *EmailService) Send(ctx context.Context, to, subject, htmlContent, textContent string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	switch e.config.Provider {
	case "sendgrid":
		return e.sendViaSendgrid(ctx, to, subject, htmlContent, textContent)
	default:
		e.logger.Info("Email suppressed by log provider",
			zap.String("to", security.MaskEmail(to)),
			zap.String("subject", subject))
		return nil
	}
}

func (e *EmailService) sendViaSendgrid(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.client == nil {
		return fmt.Errorf("sendgrid client not configured")
	}

	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), textContent, htmlContent)

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		e.logger.Error("Failed to send email",
			zap.String("provider", "sendgrid"),
			zap.String("to", security.MaskEmail(to)),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		e.logger.Error("Email service returned error",
			zap.String("provider", "sendgrid"),
			zap.String("to", security.MaskEmail(to)),
			zap.Int("status_code", response.StatusCode),
			zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d, body: %s", response.StatusCode, response.Body)
	}

	e.logger.Info("Email sent successfully",
		zap.String("provider", "sendgrid"),
		zap.String("to", security.MaskEmail(to)),
		zap.Int("status_code", response.StatusCode))
	return nil
}

// EmailLookup resolves a user's address
type EmailLookup interface {
	GetEmail(ctx context.Context, userID string) (string, error)
}

// DepositNotifier emails the wallet owner when a deposit is credited
type DepositNotifier struct {
	users  EmailLookup
	mailer Mailer
	logger *zap.Logger
}

// NewDepositNotifier creates a deposit notifier
func NewDepositNotifier(users EmailLookup, mailer Mailer, logger *zap.Logger) *DepositNotifier {
	return &DepositNotifier{users: users, mailer: mailer, logger: logger}
}

// DepositSubject is the subject line of every deposit confirmation
const DepositSubject = "Deposit Confirmation"

// NotifyDeposit sends the confirmation email. Users without an email on file
// are skipped.
func (n *DepositNotifier) NotifyDeposit(ctx context.Context, detail entities.TransactionDetail, balance string) error {
	email, err := n.users.GetEmail(ctx, detail.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up user email: %w", err)
	}
	if email == "" {
		n.logger.Debug("No email on file, skipping deposit notification", zap.String("user_id", detail.UserID))
		return nil
	}
	return n.mailer.Send(ctx, email, DepositSubject, buildDepositHTML(detail, balance), buildDepositText(detail, balance))
}

func buildDepositHTML(detail entities.TransactionDetail, balance string) string {
	return fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<title>Deposit Confirmation</title>
		</head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 8px;">
				<h1 style="color: #333;">Deposit received</h1>
				<p style="color: #666; font-size: 16px;">%s %s has been credited to your %s wallet.</p>
				<p style="color: #666; font-size: 16px;">New balance: <strong>%s %s</strong></p>
				<p style="color: #888; font-size: 12px; word-break: break-all;">Transaction: %s</p>
			</div>
		</body>
		</html>
	`,
		html.EscapeString(detail.Amount), html.EscapeString(detail.Currency), html.EscapeString(detail.Chain),
		html.EscapeString(balance), html.EscapeString(detail.Currency),
		html.EscapeString(detail.Hash))
}

func buildDepositText(detail entities.TransactionDetail, balance string) string {
	return fmt.Sprintf(`Deposit received

%s %s has been credited to your %s wallet.
New balance: %s %s

Transaction: %s
`, detail.Amount, detail.Currency, detail.Chain, balance, detail.Currency, detail.Hash)
}
