package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/taskhive/taskhive/pkg/logger"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records message metadata instead of delivering it. Bodies are not logged because
// they carry bearer tokens.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer returns a mailer used when SMTP delivery is disabled.
func NewLogMailer() *LogMailer {
	return &LogMailer{log: logger.WithModule("mail")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email delivery skipped (smtp disabled)",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// PasswordResetMessage builds the reset email pointing at the frontend reset form.
func PasswordResetMessage(to, frontendURL, token string) (Message, error) {
	base := strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if base == "" {
		return Message{}, errors.New("mail: frontend url is required")
	}

	link, err := url.Parse(base + "/reset-password")
	if err != nil {
		return Message{}, fmt.Errorf("mail: parse frontend url: %w", err)
	}
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()

	body := strings.Join([]string{
		"We received a request to reset the password for your account.",
		"",
		"Use the link below within the next hour to choose a new password:",
		link.String(),
		"",
		"If you did not request a reset you can ignore this email.",
	}, "\r\n")

	return Message{
		To:      []string{to},
		Subject: "Reset your password",
		Body:    body,
	}, nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}
