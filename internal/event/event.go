// Package event models the mutable, field-addressable events that flow
// through filter pipelines.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Reserved top-level fields.
const (
	TagsField      = "tags"
	MetadataField  = "@metadata"
	TimestampField = "@timestamp"

	// MovedTagsField receives a tags value that was not a list when a tag
	// had to be added.
	MovedTagsField   = "_tags"
	TagsParseFailure = "_tagsparsefailure"
)

// ErrNotContainer is returned when a write has to pass through a value that is
// not a map.
var ErrNotContainer = errors.New("field is not a container")

// Event is a mutable mapping of field names to values. Nested objects are
// map[string]any, sequences are []any or []string, and instants are time.Time.
// An Event is not safe for concurrent mutation.
type Event struct {
	fields map[string]any
}

// New returns an empty Event.
func New() *Event {
	return &Event{fields: make(map[string]any)}
}

// FromMap wraps m without copying it. A nil map yields an empty Event.
func FromMap(m map[string]any) *Event {
	if m == nil {
		m = make(map[string]any)
	}
	return &Event{fields: m}
}

// Get returns the value at ref. Missing or non-map intermediates report absence.
func (e *Event) Get(ref FieldRef) (any, bool) {
	if ref.IsZero() {
		return nil, false
	}
	cur := e.fields
	last := len(ref.path) - 1
	for _, seg := range ref.path[:last] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[ref.path[last]]
	return v, ok
}

// Include reports whether a value (possibly nil) exists at ref.
func (e *Event) Include(ref FieldRef) bool {
	_, ok := e.Get(ref)
	return ok
}

// Set writes v at ref, creating intermediate maps as needed.
func (e *Event) Set(ref FieldRef, v any) error {
	if ref.IsZero() {
		return fmt.Errorf("set: %w", ErrInvalidFieldRef)
	}
	cur := e.fields
	last := len(ref.path) - 1
	for i, seg := range ref.path[:last] {
		raw, exists := cur[seg]
		if !exists || raw == nil {
			next := make(map[string]any)
			cur[seg] = next
			cur = next
			continue
		}
		next, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("set %s: %s: %w", ref, FieldRef{path: ref.path[:i+1]}, ErrNotContainer)
		}
		cur = next
	}
	cur[ref.path[last]] = v
	return nil
}

// Remove deletes the value at ref and returns it.
func (e *Event) Remove(ref FieldRef) (any, bool) {
	if ref.IsZero() {
		return nil, false
	}
	cur := e.fields
	last := len(ref.path) - 1
	for _, seg := range ref.path[:last] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[ref.path[last]]
	if ok {
		delete(cur, ref.path[last])
	}
	return v, ok
}

// Tags returns the event's tags. A single string reads as a one-element
// list; any other non-list value reads as empty.
func (e *Event) Tags() []string {
	tags, _ := e.tagList()
	return tags
}

// tagList reports false when the tags field holds something that is not a
// list of strings.
func (e *Event) tagList() ([]string, bool) {
	raw, ok := e.fields[TagsField]
	if !ok || raw == nil {
		return nil, true
	}
	if s, ok := raw.(string); ok {
		return []string{s}, true
	}
	switch raw.(type) {
	case []any, []string:
	default:
		return nil, false
	}
	tags, err := cast.ToStringSliceE(raw)
	if err != nil {
		return nil, false
	}
	return tags, true
}

// HasTag reports whether tag is present.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// Tag adds tag unless it is already present. A tags field that is not a list
// is moved to _tags and replaced by a list holding the _tagsparsefailure
// marker, so its content is kept.
func (e *Event) Tag(tag string) {
	tags, ok := e.tagList()
	if !ok {
		e.fields[MovedTagsField] = e.fields[TagsField]
		tags = []string{TagsParseFailure}
	}
	for _, t := range tags {
		if ok && t == tag {
			return
		}
	}
	e.fields[TagsField] = append(tags, tag)
}

// Untag removes every occurrence of tag. A tags field that is not a list is
// left alone.
func (e *Event) Untag(tag string) {
	tags, ok := e.tagList()
	if !ok {
		return
	}
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		delete(e.fields, TagsField)
		return
	}
	e.fields[TagsField] = out
}

// Timestamp returns the event's @timestamp when it is set to an instant.
func (e *Event) Timestamp() (time.Time, bool) {
	ts, ok := e.fields[TimestampField].(time.Time)
	return ts, ok
}

// ToMap returns a deep copy of the event without the @metadata subtree.
func (e *Event) ToMap() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		if k == MetadataField {
			continue
		}
		out[k] = DeepCopy(v)
	}
	return out
}

// Clone returns a deep copy, @metadata included.
func (e *Event) Clone() *Event {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = DeepCopy(v)
	}
	return &Event{fields: out}
}

// MarshalJSON encodes the event without @metadata.
func (e *Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.ToMap())
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a JSON object, keeping numbers as json.Number so large
// epoch values survive without float rounding.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	if m == nil {
		return errors.New("unmarshal event: expected a JSON object")
	}
	e.fields = m
	return nil
}

// Parse decodes a single JSON object into an Event.
func Parse(data []byte) (*Event, error) {
	e := New()
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return e, nil
}

// DeepCopy copies nested maps and slices so the result shares no mutable
// containers with v.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = DeepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = DeepCopy(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
