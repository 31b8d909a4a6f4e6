// Package audit delivers per-transaction audit events to configured sinks off
// the request path. Events carry metadata only, never transaction text.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventVersion is bumped when the event schema changes incompatibly.
const EventVersion = "1"

// Verdict is the part of the judge's verdict safe to export. Reasoning is
// left out because the judge may quote the sanitized text.
type Verdict struct {
	Score                 int  `json:"score"`
	HallucinationDetected bool `json:"hallucination_detected"`
	MissingWarnings       bool `json:"missing_warnings"`
}

// Event describes one processed transaction.
type Event struct {
	Version   string    `json:"version"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`

	Status              string         `json:"status"`
	PIIDetected         bool           `json:"pii_detected"`
	RedactedEntityTypes []string       `json:"redacted_entity_types"`
	RedactionCount      int            `json:"redaction_count"`
	FieldRedactions     map[string]int `json:"field_redactions,omitempty"`
	FailureKind         string         `json:"failure_kind,omitempty"`
	Verdict             *Verdict       `json:"verdict,omitempty"`

	LatencyMs float64 `json:"latency_ms"`
	ScrubMs   float64 `json:"scrub_ms"`
	JudgeMs   float64 `json:"judge_ms"`
}

// NewEvent stamps a fresh id and timestamp.
func NewEvent(requestID string) *Event {
	return &Event{
		Version:   EventVersion,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
