package store

import (
	"time"

	"github.com/guregu/null/v5"
	"github.com/portwatch/portwatch/internal/types"
)

// endpointRow is the registry table. Status and events cascade on delete.
type endpointRow struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"uniqueIndex;not null"`
	Host   string `gorm:"not null"`
	Port   int    `gorm:"not null"`
	Public bool   `gorm:"not null;default:false"`

	Status *statusRow      `gorm:"foreignKey:EndpointID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Events []downtimeEvent `gorm:"foreignKey:EndpointID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (endpointRow) TableName() string { return "endpoints" }

func (r endpointRow) toEndpoint() types.Endpoint {
	return types.Endpoint{
		ID:     r.ID,
		Name:   r.Name,
		Host:   r.Host,
		Port:   r.Port,
		Public: r.Public,
	}
}

// statusRow holds one StatusRecord per endpoint
type statusRow struct {
	ID          uint      `gorm:"primaryKey"`
	EndpointID  uint      `gorm:"uniqueIndex;not null"`
	IsAlive     null.Bool
	LatencyMs   int       `gorm:"not null;default:-1"`
	LastChecked null.Time
}

func (statusRow) TableName() string { return "status" }

func (r statusRow) toRecord() types.StatusRecord {
	return types.StatusRecord{
		EndpointID:  r.EndpointID,
		IsAlive:     r.IsAlive,
		LatencyMs:   r.LatencyMs,
		LastChecked: r.LastChecked,
	}
}

// downtimeEvent is an append-only ledger row
type downtimeEvent struct {
	ID         uint64    `gorm:"primaryKey"`
	EndpointID uint      `gorm:"not null;uniqueIndex:idx_events_endpoint_ts,priority:1"`
	EventType  string    `gorm:"not null;size:4"`
	Timestamp  time.Time `gorm:"not null;uniqueIndex:idx_events_endpoint_ts,priority:2"`
}

func (downtimeEvent) TableName() string { return "downtime_events" }

func (r downtimeEvent) toEvent() types.DowntimeEvent {
	return types.DowntimeEvent{
		EndpointID: r.EndpointID,
		Type:       types.EventType(r.EventType),
		Timestamp:  r.Timestamp.UTC(),
	}
}

// metadata is a small key/value table
type metadata struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (metadata) TableName() string { return "metadata" }

const lastUpdateKey = "last_update_timestamp"
