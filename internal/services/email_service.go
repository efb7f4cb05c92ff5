package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// Notification kinds dispatched by the identity flows
const (
	EmailKindInviteIssued    = "invite-issued"
	EmailKindPasswordReset   = "password-reset"
	EmailKindPasswordChanged = "password-changed"
	EmailKindMFAEnabled      = "mfa-enabled"
)

// EmailService is the outbound notification dispatcher. A failed
// invite-issued dispatch rolls back the invite; failures of the other kinds
// are logged but non-fatal to the triggering operation.
type EmailService interface {
	Send(ctx context.Context, kind, recipient string, params map[string]string) error
}

// AWSSESEmailService sends notifications using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// Send dispatches a notification of the given kind.
func (s *AWSSESEmailService) Send(ctx context.Context, kind, recipient string, params map[string]string) error {
	subject, textBody, err := renderEmail(kind, s.baseURL, params)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("message_id", *result.MessageId))

	return nil
}

// LogEmailService writes outbound notifications to the log instead of
// dispatching them, the development fallback when no SES sender is
// configured. Raw tokens never reach the log.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

// NewLogEmailService creates a log-only email service
func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{
		baseURL: baseURL,
		logger:  logger,
	}
}

// Send renders the notification and logs its metadata.
func (s *LogEmailService) Send(ctx context.Context, kind, recipient string, params map[string]string) error {
	subject, textBody, err := renderEmail(kind, s.baseURL, params)
	if err != nil {
		return err
	}

	s.logger.Info("email dispatched to log",
		slog.String("kind", kind),
		slog.String("recipient", pkglogger.SanitizedEmail(recipient)),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(textBody)))

	return nil
}

func renderEmail(kind, baseURL string, params map[string]string) (string, string, error) {
	switch kind {
	case EmailKindInviteIssued:
		link := fmt.Sprintf("%s/register?token=%s", baseURL, params["token"])
		body := fmt.Sprintf(`You have been invited to join Atrium.

Create your account using the link below:

%s

This invite expires at %s.

If you were not expecting this invitation, you can ignore this email.
`, link, params["expires_at"])
		if msg := params["message"]; msg != "" {
			body = fmt.Sprintf("%s\n\nMessage from the sender:\n%s\n", body, msg)
		}
		return "You're invited to Atrium", body, nil

	case EmailKindPasswordReset:
		link := fmt.Sprintf("%s/reset-password?token=%s", baseURL, params["token"])
		body := fmt.Sprintf(`A password reset was requested for your account.

Reset your password using the link below:

%s

This link expires in one hour and can be used once.

If you did not request a reset, you can ignore this email; your password is unchanged.
`, link)
		return "Reset your Atrium password", body, nil

	case EmailKindPasswordChanged:
		body := `Your Atrium password was just changed.

All existing sessions have been signed out.

If this was not you, request a password reset immediately and contact support.
`
		return "Your password was changed", body, nil

	case EmailKindMFAEnabled:
		body := `Two-factor authentication was enabled on your Atrium account.

From now on, sign-in requires a code from your authenticator app or a backup code.

If this was not you, contact support immediately.
`
		return "Two-factor authentication enabled", body, nil

	default:
		return "", "", fmt.Errorf("unknown email kind: %s", kind)
	}
}
