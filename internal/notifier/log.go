package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// LogRecipient writes alerts to the structured log
type LogRecipient struct {
	name   string
	logger zerolog.Logger
}

func NewLogRecipient(name string, logger zerolog.Logger) *LogRecipient {
	return &LogRecipient{name: name, logger: logger.With().Str("channel", name).Logger()}
}

func (l *LogRecipient) Name() string {
	return l.name
}

func (l *LogRecipient) Send(_ context.Context, msg Message) error {
	l.logger.Warn().
		Str("title", msg.Title).
		Str("body", msg.Body).
		Msg("Alert")
	return nil
}
