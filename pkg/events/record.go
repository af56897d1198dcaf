package events

import "time"

// Published is the contract for events sent to the telemetry bus.
type Published interface {
	// EventType returns the subject suffix, e.g. "turn.completed".
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

const TypeTurnCompleted = "turn.completed"

// Record is the plain Published implementation.
type Record struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (r Record) EventType() string {
	return r.Type
}

func (r Record) Payload() map[string]interface{} {
	return r.Data
}

func (r Record) Timestamp() time.Time {
	return r.OccurredAt
}

// TurnCompleted summarizes a finished turn for telemetry. The answer text is
// not included.
func TurnCompleted(sessionID string, path []Kind, elapsed time.Duration, failed bool, at time.Time) Record {
	kinds := make([]string, len(path))
	for i, k := range path {
		kinds[i] = string(k)
	}
	return Record{
		Type: TypeTurnCompleted,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"path":       kinds,
			"elapsed_ms": elapsed.Milliseconds(),
			"failed":     failed,
			"at":         at.UTC().Format(time.RFC3339),
		},
		OccurredAt: at,
	}
}
