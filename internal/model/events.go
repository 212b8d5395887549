package model

import "time"

// Event type tags used in emitted events and journal records.
const (
	EventNewTokenDiscovered = "new_token_discovered"
	EventBatchCompleted     = "batch_completed"
)

// DiscoveryEvent is the tagged union of events emitted by the discovery
// engine. Events are immutable once emitted.
type DiscoveryEvent interface {
	EventType() string
}

// NewTokenDiscovered is emitted once per token, on first successful
// discovery and validation.
type NewTokenDiscovered struct {
	Address    string `json:"address"`
	Token      Token  `json:"token"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
}

func (NewTokenDiscovered) EventType() string { return EventNewTokenDiscovered }

// BatchCompleted is the terminal event of every polling cycle, emitted
// regardless of outcome.
type BatchCompleted struct {
	Source         string `json:"source"`
	ProcessedCount int    `json:"processed_count"`
	NewCount       int    `json:"new_count"`
	BatchID        string `json:"batch_id"`
}

func (BatchCompleted) EventType() string { return EventBatchCompleted }

// EventRecord is the journal representation of a discovery event.
type EventRecord struct {
	EventType string      `json:"event_type"`
	EmittedAt time.Time   `json:"emitted_at"`
	Payload   interface{} `json:"payload"`
}

// NewEventRecord wraps a discovery event for the journal.
func NewEventRecord(event DiscoveryEvent, emittedAt time.Time) EventRecord {
	return EventRecord{
		EventType: event.EventType(),
		EmittedAt: emittedAt,
		Payload:   event,
	}
}
