package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/portwatch/portwatch/internal/clock"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrEndpointNotFound is returned when a lookup matches no endpoint
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrDuplicateEndpoint is returned when an endpoint name is already registered
	ErrDuplicateEndpoint = errors.New("endpoint name already registered")
	// ErrInvalidEndpoint is returned when an endpoint fails validation
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Store persists the endpoint registry, status snapshots and the downtime ledger in SQLite
type Store struct {
	db     *gorm.DB
	clock  clock.Clock
	logger zerolog.Logger
}

// Open creates or migrates the database at path
func Open(path string, clk clock.Clock, logger zerolog.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	log := logger.With().Str("component", "store").Logger()
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(log),
		NowFunc: clk.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	// SQLite has a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&endpointRow{}, &statusRow{}, &downtimeEvent{}, &metadata{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Database ready")

	return &Store{db: db, clock: clk, logger: log}, nil
}

// Close releases the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
