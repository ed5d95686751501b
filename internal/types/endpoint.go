package types

import (
	"net"
	"strconv"

	"github.com/guregu/null/v5"
)

// Endpoint is a monitored host:port pair
type Endpoint struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Public bool   `json:"public"`
}

// Address returns the dialable host:port form
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// LatencyUnmeasured marks a StatusRecord whose endpoint was unreachable or never probed.
const LatencyUnmeasured = -1

// StatusRecord is the latest probe snapshot of an endpoint.
// IsAlive is invalid until the first probe completes.
type StatusRecord struct {
	EndpointID  uint      `json:"endpoint_id"`
	IsAlive     null.Bool `json:"is_alive"`
	LatencyMs   int       `json:"latency_ms"`
	LastChecked null.Time `json:"last_checked"`
}

// EndpointStatus joins an endpoint with its latest StatusRecord
type EndpointStatus struct {
	Endpoint
	Status StatusRecord `json:"status"`
}

// Unknown reports whether the endpoint has never been probed
func (s StatusRecord) Unknown() bool {
	return !s.IsAlive.Valid
}
