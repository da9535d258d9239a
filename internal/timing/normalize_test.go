package timing

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	var nilTime *time.Time
	now := time.Now()
	tests := []struct {
		in   any
		want Kind
	}{
		{in: nil, want: KindAbsent},
		{in: nilTime, want: KindAbsent},
		{in: now, want: KindInstant},
		{in: &now, want: KindInstant},
		{in: 1, want: KindNumber},
		{in: uint16(1), want: KindNumber},
		{in: 1.5, want: KindNumber},
		{in: json.Number("12"), want: KindNumber},
		{in: "2024-01-01", want: KindText},
		{in: true, want: KindOther},
		{in: map[string]any{}, want: KindOther},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.in), "input %#v", tt.in)
	}
}

func TestNormalizeNumbers(t *testing.T) {
	t.Parallel()

	epoch := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{name: "seconds", in: 1700000000, want: epoch},
		{name: "milliseconds", in: int64(1700000000000), want: epoch},
		{name: "threshold is seconds", in: 2000000000, want: time.Unix(2000000000, 0).UTC()},
		{name: "above threshold is millis", in: 2000000001, want: time.UnixMilli(2000000001).UTC()},
		{name: "fractional seconds", in: 1700000000.25, want: epoch.Add(250 * time.Millisecond)},
		{name: "float millis", in: 1700000000500.0, want: epoch.Add(500 * time.Millisecond)},
		{name: "json integer millis", in: json.Number("1700000000000"), want: epoch},
		{name: "json exponent seconds", in: json.Number("1.7e9"), want: epoch},
		{name: "negative seconds", in: -86400, want: time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)},
		{name: "small unsigned", in: uint8(0), want: time.Unix(0, 0).UTC()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Normalize(tt.in)
			require.True(t, ok)
			require.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizeRejectsUnrepresentableNumbers(t *testing.T) {
	t.Parallel()

	for _, in := range []any{
		math.NaN(),
		math.Inf(1),
		math.Inf(-1),
		uint64(math.MaxUint64),
		int64(math.MaxInt64),
		int64(math.MinInt64),
		1e300,
		json.Number("1e400"),
	} {
		_, ok := Normalize(in)
		require.False(t, ok, "input %#v", in)
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-05-01T10:00:00Z", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-05-01T10:00:00.123456Z", want: time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{in: "2024-05-01T10:00:00+02:00", want: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		{in: "2024-05-01T10:00:00.250", want: time.Date(2024, 5, 1, 10, 0, 0, 250000000, time.UTC)},
		{in: "2024-05-01", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{in: " 2024-05-01T10:00:00Z ", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-05-01 10:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		require.True(t, ok, "input %q", tt.in)
		require.True(t, tt.want.Equal(got), "input %q: got %s want %s", tt.in, got, tt.want)
	}
}

// TestNormalizeFreeFormText pins the human-written formats the lenient
// fallback accepts. Zone-less inputs are read as UTC.
func TestNormalizeFreeFormText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "May 1, 2024", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{in: "May 1, 2024 10:30:00", want: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{in: "1 May 2024", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{in: "Wed, 01 May 2024 10:00:00 GMT", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "Wed, 01 May 2024 10:00:00 +0200", want: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		{in: "05/01/2024", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2024/05/01 10:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		require.True(t, ok, "input %q", tt.in)
		require.True(t, tt.want.Equal(got), "input %q: got %s want %s", tt.in, got, tt.want)
	}
}

func TestNormalizeUnresolved(t *testing.T) {
	t.Parallel()

	for _, in := range []any{nil, "", "   ", "not-a-date", "1714557600", true, []any{"2024-01-01"}, map[string]any{"t": 1}} {
		got, ok := Normalize(in)
		require.False(t, ok, "input %#v", in)
		require.True(t, got.IsZero())
	}
}

func TestNormalizeInstantIsUTC(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2024, 1, 1, 5, 0, 0, 0, zone)

	got, ok := Normalize(in)
	require.True(t, ok)
	require.Equal(t, time.UTC, got.Location())
	require.Equal(t, 0, got.Hour())

	got, ok = Normalize(&in)
	require.True(t, ok)
	require.True(t, in.Equal(got))
}
