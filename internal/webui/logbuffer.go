package webui

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one decoded zerolog line
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogBuffer is a thread-safe ring buffer of recent log entries.
// It is an io.Writer meant to sit next to stdout in a MultiWriter.
type LogBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size < 1 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Write implements io.Writer for capturing log output
func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	entry := decode(p)

	lb.mu.Lock()
	lb.entries[lb.head] = entry
	lb.head = (lb.head + 1) % lb.size
	if lb.count < lb.size {
		lb.count++
	}
	lb.mu.Unlock()

	return len(p), nil
}

// GetEntries returns all log entries in chronological order
func (lb *LogBuffer) GetEntries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, lb.count)
	start := 0
	if lb.count == lb.size {
		start = lb.head
	}
	for i := 0; i < lb.count; i++ {
		result[i] = lb.entries[(start+i)%lb.size]
	}
	return result
}

// GetRecentEntries returns the most recent n entries at or above minLevel.
// An empty minLevel keeps everything.
func (lb *LogBuffer) GetRecentEntries(n int, minLevel string) []LogEntry {
	entries := lb.GetEntries()
	if minLevel != "" {
		min, err := zerolog.ParseLevel(minLevel)
		if err == nil {
			kept := entries[:0]
			for _, e := range entries {
				lvl, err := zerolog.ParseLevel(e.Level)
				if err != nil || lvl >= min {
					kept = append(kept, e)
				}
			}
			entries = kept
		}
	}
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// Clear clears all log entries
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.head = 0
	lb.count = 0
}

// decode turns a zerolog JSON line into an entry. Non-JSON lines are kept verbatim.
func decode(p []byte) LogEntry {
	entry := LogEntry{Timestamp: time.Now().UTC(), Level: zerolog.InfoLevel.String()}

	fields := make(map[string]interface{})
	if err := json.Unmarshal(p, &fields); err != nil {
		entry.Message = strings.TrimSpace(string(p))
		return entry
	}

	switch v := fields[zerolog.TimestampFieldName].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts
		}
	case float64:
		entry.Timestamp = time.Unix(int64(v), 0).UTC()
	}
	delete(fields, zerolog.TimestampFieldName)
	if v, ok := fields[zerolog.LevelFieldName].(string); ok {
		entry.Level = v
		delete(fields, zerolog.LevelFieldName)
	}
	if v, ok := fields[zerolog.MessageFieldName].(string); ok {
		entry.Message = v
		delete(fields, zerolog.MessageFieldName)
	}
	if v, ok := fields["component"].(string); ok {
		entry.Component = v
		delete(fields, "component")
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry
}
