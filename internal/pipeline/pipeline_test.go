package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/hoist"
	"github.com/JakeFAU/realtime-stage-tracker/internal/timing"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type filterCall struct {
	pipelineID, filterID, filterType string
	matched                          bool
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []filterCall
}

func (o *recordingObserver) ObserveFilter(pipelineID, filterID, filterType string, matched bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, filterCall{pipelineID, filterID, filterType, matched})
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := DefaultRegistry()
	require.NoError(t, reg.Register("never", func(map[string]any, Env) (Filter, error) {
		return FilterFunc(func(*event.Event) bool { return false }), nil
	}))
	require.NoError(t, reg.Register("explode", func(map[string]any, Env) (Filter, error) {
		return FilterFunc(func(*event.Event) bool { panic("boom") }), nil
	}))
	return reg
}

func TestBuildAndProcess(t *testing.T) {
	t.Parallel()

	def := Definition{
		ID: "main",
		Filters: []FilterSpec{
			{
				ID:      "hoist-payload",
				Type:    TypeHoist,
				AddTag:  []string{"hoisted"},
				Options: map[string]any{"source": "payload", "remove_source": true},
			},
			{
				ID:        "stamp-received",
				Type:      TypeTiming,
				AddTag:    []string{"timed"},
				RemoveTag: []string{"hoisted"},
				Options:   map[string]any{"tracking_field": "timestamps", "step_field": "received", "timestamp_field": "sent_at"},
			},
			{
				ID:      "stamp-done",
				Type:    TypeTiming,
				Options: map[string]any{"tracking_field": "timestamps", "step_field": "done"},
			},
		},
	}
	clock := fixedClock{now: time.Date(2024, 5, 1, 10, 0, 2, 0, time.UTC)}
	obs := &recordingObserver{}
	p, err := Build(def, DefaultRegistry(), Env{Clock: clock}, WithObserver(obs))
	require.NoError(t, err)
	require.Equal(t, "main", p.ID())
	require.Len(t, p.Filters(), 3)

	ev := event.FromMap(map[string]any{
		"payload": map[string]any{"sent_at": "2024-05-01T10:00:00Z"},
	})
	p.Process(ev)

	require.Equal(t, []string{"timed"}, ev.Tags())
	got, ok := ev.Get(event.MustParseFieldRef("[timestamps][done-since_received]"))
	require.True(t, ok)
	require.EqualValues(t, 2000, got)
	require.Len(t, obs.calls, 3)
	ledgers := p.Ledgers()
	require.Len(t, ledgers, 1)
	require.Equal(t, "[timestamps]", ledgers[0].Container().String())
	require.Equal(t, filterCall{"main", "hoist-payload", TypeHoist, true}, obs.calls[0])

	deltas, last := p.Trace(ev)
	require.Equal(t, "done", last)
	require.Equal(t, []timing.Delta{
		{Label: "done-since_received", Step: "done", Prior: "received", Millis: 2000},
	}, deltas)
}

// TestTraceIncludesEveryRecordedPair covers intermediate steps and deltas
// carried in from an upstream pipeline.
func TestTraceIncludesEveryRecordedPair(t *testing.T) {
	t.Parallel()

	def := Definition{ID: "edge", Filters: []FilterSpec{
		{ID: "stamp-received", Type: TypeTiming, Options: map[string]any{
			"tracking_field": "t", "step_field": "received", "timestamp_value": "2024-05-01T10:00:01Z",
		}},
		{ID: "stamp-done", Type: TypeTiming, Options: map[string]any{
			"tracking_field": "t", "step_field": "done", "timestamp_value": "2024-05-01T10:00:03Z",
		}},
	}}
	p, err := Build(def, DefaultRegistry(), Env{})
	require.NoError(t, err)

	ev := event.FromMap(map[string]any{
		"t": map[string]any{
			"order": []any{"sent"},
			"sent":  "2024-05-01T10:00:00Z",
		},
	})
	p.Process(ev)

	deltas, last := p.Trace(ev)
	require.Equal(t, "done", last)
	require.Equal(t, []timing.Delta{
		{Label: "received-since_sent", Step: "received", Prior: "sent", Millis: 1000},
		{Label: "done-since_sent", Step: "done", Prior: "sent", Millis: 3000},
		{Label: "done-since_received", Step: "done", Prior: "received", Millis: 2000},
	}, deltas)
}

func TestAddTagOnlyOnMatch(t *testing.T) {
	t.Parallel()

	def := Definition{ID: "p", Filters: []FilterSpec{
		{ID: "missing-source", Type: TypeHoist, AddTag: []string{"hoisted"}, Options: map[string]any{"source": "absent"}},
		{ID: "never", Type: "never", AddTag: []string{"never"}},
	}}
	p, err := Build(def, testRegistry(t), Env{})
	require.NoError(t, err)

	ev := p.Process(event.New())
	require.Empty(t, ev.Tags())
}

func TestPanickingFilterIsRecovered(t *testing.T) {
	t.Parallel()

	def := Definition{ID: "p", Filters: []FilterSpec{
		{ID: "explode", Type: "explode", AddTag: []string{"unreachable"}},
		{ID: "stamp", Type: TypeTiming, AddTag: []string{"timed"}, Options: map[string]any{"tracking_field": "t", "step_field": "a"}},
	}}
	p, err := Build(def, testRegistry(t), Env{})
	require.NoError(t, err)

	ev := event.New()
	require.NotPanics(t, func() { p.Process(ev) })
	require.Equal(t, []string{TagFilterPanic, "timed"}, ev.Tags())
	require.True(t, ev.Include(event.MustParseFieldRef("[t][a]")))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()

	_, err := Build(Definition{Filters: []FilterSpec{{Type: "nope"}}}, reg, Env{})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = Build(Definition{Filters: []FilterSpec{
		{ID: "x", Type: TypeHoist, Options: map[string]any{"source": "a"}},
		{ID: "x", Type: TypeHoist, Options: map[string]any{"source": "b"}},
	}}, reg, Env{})
	require.ErrorIs(t, err, ErrDuplicateID)

	_, err = Build(Definition{Filters: []FilterSpec{{Type: TypeTiming, Options: map[string]any{"step_field": "a"}}}}, reg, Env{})
	require.ErrorContains(t, err, "tracking_field is required")

	_, err = Build(Definition{Filters: []FilterSpec{{Type: TypeHoist, Options: map[string]any{"source": "a", "bogus": 1}}}}, reg, Env{})
	require.ErrorContains(t, err, "bogus")

	_, err = Build(Definition{}, nil, Env{})
	require.Error(t, err)
}

func TestGeneratedIDs(t *testing.T) {
	t.Parallel()

	p, err := Build(Definition{Filters: []FilterSpec{
		{Type: TypeHoist, Options: map[string]any{"source": "a"}},
		{Type: TypeHoist, Options: map[string]any{"source": "b"}},
	}}, DefaultRegistry(), Env{})
	require.NoError(t, err)
	require.Equal(t, "hoist-0", p.Filters()[0].ID)
	require.Equal(t, "hoist-1", p.Filters()[1].ID)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()
	require.Equal(t, []string{TypeHoist, TypeTiming}, reg.Types())

	err := reg.Register(TypeTiming, newTimingFilter)
	require.ErrorIs(t, err, ErrDuplicateType)
	require.Error(t, reg.Register("", newTimingFilter))

	_, err = reg.Lookup("missing")
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeOptionsWeakTyping(t *testing.T) {
	t.Parallel()

	var cfg hoist.Config
	require.NoError(t, DecodeOptions(map[string]any{"source": "a", "remove_source": "true"}, &cfg))
	require.True(t, cfg.RemoveSource)

	var tc timing.Config
	require.NoError(t, DecodeOptions(map[string]any{"tracking_field": "t", "step_field": "s", "timestamp_value": 1700000000}, &tc))
	require.Equal(t, 1700000000, tc.TimestampValue)
}

func TestHolder(t *testing.T) {
	t.Parallel()

	h := NewHolder(nil)
	ev := event.New()
	require.Same(t, ev, h.Process(ev))

	p, err := Build(Definition{ID: "one", Filters: []FilterSpec{
		{Type: TypeTiming, Options: map[string]any{"tracking_field": "t", "step_field": "a"}},
	}}, DefaultRegistry(), Env{})
	require.NoError(t, err)
	h.Store(p)
	require.Equal(t, "one", h.Load().ID())
	require.True(t, h.Process(ev).Include(event.MustParseFieldRef("[t][order]")))
}
