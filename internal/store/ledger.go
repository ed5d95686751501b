package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portwatch/portwatch/internal/types"
	"gorm.io/gorm"
)

// Append writes one transition to the downtime ledger
func (s *Store) Append(ctx context.Context, endpointID uint, eventType types.EventType, ts time.Time) error {
	if eventType != types.EventDown && eventType != types.EventUp {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	row := downtimeEvent{
		EndpointID: endpointID,
		EventType:  string(eventType),
		Timestamp:  ts.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append %s event for endpoint %d: %w", eventType, endpointID, err)
	}

	s.logger.Debug().
		Uint("endpoint_id", endpointID).
		Str("event_type", string(eventType)).
		Time("timestamp", row.Timestamp).
		Msg("Ledger event appended")
	return nil
}

// EventsSince returns events at or after since, oldest first
func (s *Store) EventsSince(ctx context.Context, endpointID uint, since time.Time) ([]types.DowntimeEvent, error) {
	var rows []downtimeEvent
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND timestamp >= ?", endpointID, since.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("events since %s for endpoint %d: %w", since.Format(time.RFC3339), endpointID, err)
	}

	out := make([]types.DowntimeEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, nil
}

// LastEventBefore returns the newest event strictly before ts, or nil when there is none
func (s *Store) LastEventBefore(ctx context.Context, endpointID uint, ts time.Time) (*types.DowntimeEvent, error) {
	var row downtimeEvent
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND timestamp < ?", endpointID, ts.UTC()).
		Order("timestamp DESC, id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("last event before %s for endpoint %d: %w", ts.Format(time.RFC3339), endpointID, err)
	}
	ev := row.toEvent()
	return &ev, nil
}

// LastEvent returns the newest event of an endpoint, or nil
func (s *Store) LastEvent(ctx context.Context, endpointID uint) (*types.DowntimeEvent, error) {
	var row downtimeEvent
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("timestamp DESC, id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("last event for endpoint %d: %w", endpointID, err)
	}
	ev := row.toEvent()
	return &ev, nil
}
