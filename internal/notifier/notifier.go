package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/portwatch/portwatch/internal/config"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

// Message is a rendered alert, ready for any channel
type Message struct {
	Title string
	Body  string
}

// Recipient delivers messages over one channel
type Recipient interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher fans alerts out to every configured recipient.
// A failing recipient never prevents delivery to the others.
type Dispatcher struct {
	recipients []Recipient
	location   *time.Location
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher. loc is used for timestamps in messages.
func NewDispatcher(recipients []Recipient, loc *time.Location, logger zerolog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		recipients: recipients,
		location:   loc,
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// FromConfig builds one recipient per configured channel. With no channels
// configured alerts go to the log.
func FromConfig(channels map[string]config.ChannelConfig, logger zerolog.Logger) ([]Recipient, error) {
	if len(channels) == 0 {
		return []Recipient{NewLogRecipient("log", logger)}, nil
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	recipients := make([]Recipient, 0, len(channels))
	for _, name := range names {
		ch := channels[name]
		switch ch.Type {
		case config.ChannelApprise:
			recipients = append(recipients, NewAppriseRecipient(name, ch.URLEnv, logger))
		case config.ChannelBrevo:
			recipients = append(recipients, NewBrevoRecipient(name, ch.APIKeyEnv, ch.From, ch.To, logger))
		case config.ChannelLog:
			recipients = append(recipients, NewLogRecipient(name, logger))
		default:
			return nil, fmt.Errorf("channel %s: unsupported type %q", name, ch.Type)
		}
	}
	return recipients, nil
}

// NotifyDown delivers a down alert
func (d *Dispatcher) NotifyDown(ctx context.Context, alert types.Alert) error {
	return d.dispatch(ctx, alert, FormatDown(alert, d.location))
}

// NotifyUp delivers a recovery alert
func (d *Dispatcher) NotifyUp(ctx context.Context, alert types.Alert) error {
	return d.dispatch(ctx, alert, FormatUp(alert, d.location))
}

func (d *Dispatcher) dispatch(ctx context.Context, alert types.Alert, msg Message) error {
	var errs []error
	for _, r := range d.recipients {
		if err := r.Send(ctx, msg); err != nil {
			d.logger.Error().
				Err(err).
				Str("channel", r.Name()).
				Str("endpoint", alert.Endpoint.Name).
				Str("kind", string(alert.Kind)).
				Msg("Failed to send notification")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		d.logger.Info().
			Str("channel", r.Name()).
			Str("endpoint", alert.Endpoint.Name).
			Str("kind", string(alert.Kind)).
			Msg("Notification sent")
	}
	return errors.Join(errs...)
}

// FormatDown renders a down alert
func FormatDown(alert types.Alert, loc *time.Location) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Endpoint: %s\nAddress: %s\nStatus: DOWN\nTime: %s\n",
		alert.Endpoint.Name, alert.Endpoint.Address(), alert.FiredAt.In(loc).Format("2006-01-02 15:04:05"))
	if alert.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", alert.LastError)
	}
	fmt.Fprintf(&b, "\nNo response after %d consecutive checks.", alert.Failures)
	if alert.Flapping {
		b.WriteString("\nThe endpoint is flapping.")
	}

	return Message{
		Title: fmt.Sprintf("🔴 %s is DOWN", alert.Endpoint.Name),
		Body:  b.String(),
	}
}

// FormatUp renders a recovery alert
func FormatUp(alert types.Alert, loc *time.Location) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Endpoint: %s\nAddress: %s\nStatus: UP\nTime: %s\n",
		alert.Endpoint.Name, alert.Endpoint.Address(), alert.FiredAt.In(loc).Format("2006-01-02 15:04:05"))
	if alert.DownSince != nil {
		fmt.Fprintf(&b, "Down since: %s\nDowntime: %s\n",
			alert.DownSince.In(loc).Format("2006-01-02 15:04:05"), formatDuration(alert.Downtime()))
	}
	b.WriteString("\nThe endpoint is reachable again.")
	if alert.Flapping {
		b.WriteString("\nThe endpoint is flapping.")
	}

	return Message{
		Title: fmt.Sprintf("🟢 %s is UP", alert.Endpoint.Name),
		Body:  b.String(),
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
