package timing

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"
)

// MillisThreshold separates epoch seconds from epoch milliseconds. Numbers
// strictly greater than it are read as milliseconds. Second-precision
// timestamps after 2033-05-18 are therefore misread; the cut-off is kept as is.
const MillisThreshold = 2_000_000_000

// Representable range for numeric epochs, 0001-01-01 through 9999-12-31.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

// Kind classifies a raw timestamp value before normalization.
type Kind int

// Kinds of raw timestamp values.
const (
	KindAbsent Kind = iota
	KindInstant
	KindNumber
	KindText
	KindOther
)

// String returns a lowercase name for k.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindInstant:
		return "instant"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

// Classify reports which Kind v belongs to.
func Classify(v any) Kind {
	switch t := v.(type) {
	case nil:
		return KindAbsent
	case *time.Time:
		if t == nil {
			return KindAbsent
		}
		return KindInstant
	case time.Time:
		return KindInstant
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return KindNumber
	case string:
		return KindText
	default:
		return KindOther
	}
}

// textLayouts are tried in order before the lenient fallbacks. Layouts without
// a zone are read as UTC.
var textLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Normalize converts a raw timestamp value into a UTC instant. The boolean is
// false when v cannot be resolved. Normalize never panics.
func Normalize(v any) (time.Time, bool) {
	switch Classify(v) {
	case KindInstant:
		if p, ok := v.(*time.Time); ok {
			return p.UTC(), true
		}
		return v.(time.Time).UTC(), true
	case KindNumber:
		return fromNumber(v)
	case KindText:
		return fromText(v.(string))
	default:
		return time.Time{}, false
	}
}

func fromNumber(v any) (time.Time, bool) {
	switch n := v.(type) {
	case int:
		return fromInt(int64(n))
	case int8:
		return fromInt(int64(n))
	case int16:
		return fromInt(int64(n))
	case int32:
		return fromInt(int64(n))
	case int64:
		return fromInt(n)
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return fromInt(int64(n))
	case uint16:
		return fromInt(int64(n))
	case uint32:
		return fromInt(int64(n))
	case uint64:
		return fromUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return fromInt(i)
		}
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromFloat(f)
	default:
		return time.Time{}, false
	}
}

func fromUint(n uint64) (time.Time, bool) {
	if n > math.MaxInt64 {
		return time.Time{}, false
	}
	return fromInt(int64(n))
}

func fromInt(n int64) (time.Time, bool) {
	if n > MillisThreshold {
		if n/1000 > maxUnixSeconds {
			return time.Time{}, false
		}
		return time.UnixMilli(n).UTC(), true
	}
	if n < minUnixSeconds {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}

func fromFloat(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	secs := f
	if f > MillisThreshold {
		secs = f / 1000
	}
	if secs < minUnixSeconds || secs > maxUnixSeconds {
		return time.Time{}, false
	}
	whole := math.Floor(secs)
	nanos := math.Round((secs - whole) * 1e9)
	if nanos >= 1e9 {
		whole++
		nanos = 0
	}
	return time.Unix(int64(whole), int64(nanos)).UTC(), true
}

// fromText tries the strict layouts, then dateparse for free-form dates such
// as "May 1, 2024" or "01/05/2024 10:00", then cast. Strings made only of
// digits stay unresolved so numeric epochs keep their own rules.
func fromText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || allDigits(s) {
		return time.Time{}, false
	}
	for _, layout := range textLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if ts, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return ts.UTC(), true
	}
	ts, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
