// Package progress defines the milestone records emitted while events move
// through the pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageEventReceived  Stage = "EVENT_RECEIVED"
	StageEventProcessed Stage = "EVENT_PROCESSED"
	StageEventFailed    Stage = "EVENT_FAILED"
	StageStepDelta      Stage = "STEP_DELTA"
)

// Event captures a single milestone in an event's life.
type Event struct {
	// EventID identifies the submitted event using the 16-byte UUID form.
	EventID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Pipeline is the id of the pipeline that handled the event.
	Pipeline string
	// Source labels the submitter.
	Source string
	// Step is the measured step for deltas, or the last recorded step on
	// completion.
	Step string
	// Prior is the step a delta is measured against.
	Prior string
	// Millis is the signed delta in milliseconds.
	Millis int64
	// Tags carries the event tags on completion.
	Tags []string
	// Dur captures processing latency for completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.EventID == [16]byte{} {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageEventReceived, StageEventProcessed, StageEventFailed:
	case StageStepDelta:
		if e.Step == "" || e.Prior == "" {
			return errors.New("step delta requires step and prior")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// EventUUID converts the binary event ID to uuid.UUID for repositories.
func (e Event) EventUUID() uuid.UUID {
	return uuid.UUID(e.EventID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseEventID decodes a textual event id.
func ParseEventID(raw string) ([16]byte, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse event id: %w", err)
	}
	return UUIDToBytes(id), nil
}
