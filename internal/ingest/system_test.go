package ingest

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSystemClockNow(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := SystemClock{}.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
	if got.Nanosecond()%1000 != 0 {
		t.Fatalf("expected microsecond precision, got %d ns", got.Nanosecond())
	}
}

func TestSHA256HasherDeterministic(t *testing.T) {
	t.Parallel()

	got, err := SHA256Hasher{}.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestUUIDGeneratorIssuesOrderedV7(t *testing.T) {
	t.Parallel()

	gen := UUIDGenerator{}
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique IDs, got %s twice", first)
	}
	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("id not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if second < first {
		t.Fatalf("expected %s to sort after %s", second, first)
	}
}
