package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
)

// EventStore provides an in-memory implementation for development/testing.
type EventStore struct {
	mu      sync.RWMutex
	records map[string]ingest.Record
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		records: make(map[string]ingest.Record),
	}
}

// CreateRecord stores a new record.
func (s *EventStore) CreateRecord(_ context.Context, rec ingest.Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// UpdateRecord replaces an existing record.
func (s *EventStore) UpdateRecord(_ context.Context, rec ingest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("update %s: %w", rec.ID, ingest.ErrNotFound)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// GetRecord fetches a record by ID.
func (s *EventStore) GetRecord(_ context.Context, id string) (ingest.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return ingest.Record{}, ingest.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// ListRecords returns records with the given status, newest first. An empty
// status matches every record.
func (s *EventStore) ListRecords(_ context.Context, status ingest.Status, limit int) ([]ingest.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Record, 0, len(s.records))
	for _, rec := range s.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Received.Equal(out[j].Received) {
			return out[i].ID > out[j].ID
		}
		return out[i].Received.After(out[j].Received)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(rec ingest.Record) ingest.Record {
	if rec.Event != nil {
		rec.Event, _ = event.DeepCopy(rec.Event).(map[string]any)
	}
	if rec.Tags != nil {
		rec.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.Processed != nil {
		ts := *rec.Processed
		rec.Processed = &ts
	}
	return rec
}
