package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
)

func TestEventStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewEventStore()
	ctx := context.Background()
	rec := ingest.Record{ID: "evt-1", Status: ingest.StatusQueued, Received: time.Unix(10, 0)}

	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if err := store.CreateRecord(ctx, rec); err == nil {
		t.Fatal("expected duplicate record error")
	}
	if err := store.CreateRecord(ctx, ingest.Record{}); err == nil {
		t.Fatal("expected missing id error")
	}

	finished := time.Unix(20, 0)
	rec.Status = ingest.StatusProcessed
	rec.Processed = &finished
	rec.Event = map[string]any{"nested": map[string]any{"k": "v"}}
	rec.Tags = []string{"timed"}
	if err := store.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	got, err := store.GetRecord(ctx, "evt-1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Status != ingest.StatusProcessed || got.Processed == nil || !got.Processed.Equal(finished) {
		t.Fatalf("unexpected record %+v", got)
	}

	got.Tags[0] = "modified"
	got.Event["nested"].(map[string]any)["k"] = "changed"
	again, _ := store.GetRecord(ctx, "evt-1")
	if again.Tags[0] != "timed" || again.Event["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("expected GetRecord to return a copy")
	}

	if _, err := store.GetRecord(ctx, "missing"); !errors.Is(err, ingest.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateRecord(ctx, ingest.Record{ID: "missing"}); !errors.Is(err, ingest.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestEventStoreListRecords(t *testing.T) {
	t.Parallel()

	store := NewEventStore()
	ctx := context.Background()
	for i, status := range []ingest.Status{ingest.StatusQueued, ingest.StatusFailed, ingest.StatusQueued} {
		rec := ingest.Record{ID: string(rune('a' + i)), Status: status, Received: time.Unix(int64(i), 0)}
		if err := store.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
	}

	queued, err := store.ListRecords(ctx, ingest.StatusQueued, 0)
	if err != nil || len(queued) != 2 || queued[0].ID != "c" {
		t.Fatalf("unexpected queued list %+v err=%v", queued, err)
	}
	all, _ := store.ListRecords(ctx, "", 1)
	if len(all) != 1 || all[0].ID != "c" {
		t.Fatalf("unexpected limited list %+v", all)
	}
}
