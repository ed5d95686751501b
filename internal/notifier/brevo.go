package notifier

import (
	"context"
	"fmt"
	"html"
	"os"

	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/rs/zerolog"
)

// BrevoRecipient sends transactional emails through Brevo
type BrevoRecipient struct {
	name   string
	from   string
	to     []string
	send   func(ctx context.Context, email brevo.SendSmtpEmail) error
	logger zerolog.Logger
}

// NewBrevoRecipient creates an email recipient. The API key is read from apiKeyEnv once.
func NewBrevoRecipient(name, apiKeyEnv, from string, to []string, logger zerolog.Logger) *BrevoRecipient {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", os.Getenv(apiKeyEnv))
	client := brevo.NewAPIClient(cfg)

	return &BrevoRecipient{
		name: name,
		from: from,
		to:   to,
		send: func(ctx context.Context, email brevo.SendSmtpEmail) error {
			_, _, err := client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
			return err
		},
		logger: logger.With().Str("channel", name).Logger(),
	}
}

// Name returns the channel name
func (b *BrevoRecipient) Name() string {
	return b.name
}

// Send emails msg to every configured address
func (b *BrevoRecipient) Send(ctx context.Context, msg Message) error {
	to := make([]brevo.SendSmtpEmailTo, 0, len(b.to))
	for _, addr := range b.to {
		to = append(to, brevo.SendSmtpEmailTo{Email: addr})
	}

	email := buildEmail(b.from, to, msg)
	if err := b.send(ctx, email); err != nil {
		return fmt.Errorf("failed to send email via Brevo: %w", err)
	}

	b.logger.Debug().Int("recipients", len(to)).Msg("Email notification sent")
	return nil
}

func buildEmail(from string, to []brevo.SendSmtpEmailTo, msg Message) brevo.SendSmtpEmail {
	return brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  "Portwatch",
			Email: from,
		},
		To:          to,
		Subject:     msg.Title,
		HtmlContent: fmt.Sprintf("<pre>%s</pre>", html.EscapeString(msg.Body)),
		TextContent: msg.Body,
	}
}
