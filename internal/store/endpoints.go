package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guregu/null/v5"
	"github.com/portwatch/portwatch/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddEndpoint registers an endpoint together with an empty StatusRecord
func (s *Store) AddEndpoint(ctx context.Context, name, host string, port int) (types.Endpoint, error) {
	name = strings.TrimSpace(name)
	host = strings.TrimSpace(host)
	if name == "" || host == "" {
		return types.Endpoint{}, fmt.Errorf("%w: name and host are required", ErrInvalidEndpoint)
	}
	if port < 1 || port > 65535 {
		return types.Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}

	row := endpointRow{Name: name, Host: host, Port: port}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&endpointRow{}).Where("name = ?", name).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateEndpoint
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&statusRow{
			EndpointID: row.ID,
			IsAlive:    null.Bool{},
			LatencyMs:  types.LatencyUnmeasured,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEndpoint) {
			return types.Endpoint{}, err
		}
		return types.Endpoint{}, fmt.Errorf("add endpoint %s: %w", name, err)
	}

	s.logger.Info().
		Uint("endpoint_id", row.ID).
		Str("endpoint", name).
		Str("address", row.toEndpoint().Address()).
		Msg("Endpoint registered")

	return row.toEndpoint(), nil
}

// RemoveEndpoint deletes an endpoint by name; its status and ledger rows go with it
func (s *Store) RemoveEndpoint(ctx context.Context, name string) (types.Endpoint, error) {
	var row endpointRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEndpointNotFound
			}
			return err
		}
		return tx.Select(clause.Associations).Delete(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return types.Endpoint{}, err
		}
		return types.Endpoint{}, fmt.Errorf("remove endpoint %s: %w", name, err)
	}

	s.logger.Info().
		Uint("endpoint_id", row.ID).
		Str("endpoint", row.Name).
		Msg("Endpoint removed")

	return row.toEndpoint(), nil
}

// SetPublic toggles whether an endpoint appears on the public view
func (s *Store) SetPublic(ctx context.Context, name string, public bool) error {
	res := s.db.WithContext(ctx).
		Model(&endpointRow{}).
		Where("name = ?", name).
		Update("public", public)
	if res.Error != nil {
		return fmt.Errorf("set public %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// ListEndpoints returns the registry ordered by id
func (s *Store) ListEndpoints(ctx context.Context) ([]types.Endpoint, error) {
	var rows []endpointRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	out := make([]types.Endpoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEndpoint())
	}
	return out, nil
}

// GetEndpoint looks an endpoint up by id
func (s *Store) GetEndpoint(ctx context.Context, id uint) (types.Endpoint, error) {
	var row endpointRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Endpoint{}, ErrEndpointNotFound
		}
		return types.Endpoint{}, fmt.Errorf("get endpoint %d: %w", id, err)
	}
	return row.toEndpoint(), nil
}

// ListWithStatus joins every endpoint with its StatusRecord
func (s *Store) ListWithStatus(ctx context.Context) ([]types.EndpointStatus, error) {
	return s.listWithStatus(ctx, false)
}

// ListPublicWithStatus is ListWithStatus restricted to public endpoints
func (s *Store) ListPublicWithStatus(ctx context.Context) ([]types.EndpointStatus, error) {
	return s.listWithStatus(ctx, true)
}

func (s *Store) listWithStatus(ctx context.Context, publicOnly bool) ([]types.EndpointStatus, error) {
	q := s.db.WithContext(ctx).Preload("Status").Order("id ASC")
	if publicOnly {
		q = q.Where("public = ?", true)
	}

	var rows []endpointRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list endpoints with status: %w", err)
	}

	out := make([]types.EndpointStatus, 0, len(rows))
	for _, r := range rows {
		status := types.StatusRecord{EndpointID: r.ID, LatencyMs: types.LatencyUnmeasured}
		if r.Status != nil {
			status = r.Status.toRecord()
		}
		out = append(out, types.EndpointStatus{Endpoint: r.toEndpoint(), Status: status})
	}
	return out, nil
}

// SeedIfEmpty imports the given endpoints when the registry has none.
// It returns how many were imported.
func (s *Store) SeedIfEmpty(ctx context.Context, seed []types.Endpoint) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&endpointRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count endpoints: %w", err)
	}
	if count > 0 || len(seed) == 0 {
		return 0, nil
	}

	imported := 0
	for _, ep := range seed {
		added, err := s.AddEndpoint(ctx, ep.Name, ep.Host, ep.Port)
		if err != nil {
			s.logger.Error().Err(err).Str("endpoint", ep.Name).Msg("Failed to import endpoint")
			continue
		}
		if ep.Public {
			if err := s.SetPublic(ctx, added.Name, true); err != nil {
				s.logger.Error().Err(err).Str("endpoint", ep.Name).Msg("Failed to publish imported endpoint")
			}
		}
		imported++
	}
	return imported, nil
}
