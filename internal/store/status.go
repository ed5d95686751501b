package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v5"
	"github.com/portwatch/portwatch/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdateStatus overwrites the StatusRecord of an endpoint and stamps the last update marker
func (s *Store) UpdateStatus(ctx context.Context, endpointID uint, alive bool, latencyMs int, checkedAt time.Time) error {
	checkedAt = checkedAt.UTC()
	if !alive {
		latencyMs = types.LatencyUnmeasured
	}

	row := statusRow{
		EndpointID:  endpointID,
		IsAlive:     null.BoolFrom(alive),
		LatencyMs:   latencyMs,
		LastChecked: null.TimeFrom(checkedAt),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_alive", "latency_ms", "last_checked"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&metadata{Key: lastUpdateKey, Value: checkedAt.Format(time.RFC3339Nano)}).Error
	})
	if err != nil {
		return fmt.Errorf("update status of endpoint %d: %w", endpointID, err)
	}
	return nil
}

// GetStatus returns the latest StatusRecord of an endpoint
func (s *Store) GetStatus(ctx context.Context, endpointID uint) (types.StatusRecord, error) {
	var row statusRow
	err := s.db.WithContext(ctx).Where("endpoint_id = ?", endpointID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.StatusRecord{}, ErrEndpointNotFound
		}
		return types.StatusRecord{}, fmt.Errorf("get status of endpoint %d: %w", endpointID, err)
	}
	return row.toRecord(), nil
}

// LastUpdateTime returns when any StatusRecord was last written
func (s *Store) LastUpdateTime(ctx context.Context) (time.Time, bool, error) {
	var row metadata
	err := s.db.WithContext(ctx).Where("key = ?", lastUpdateKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read last update time: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row.Value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last update time: %w", err)
	}
	return ts.UTC(), true, nil
}
