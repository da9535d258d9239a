package event

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFieldRef is returned when a field reference cannot be parsed.
var ErrInvalidFieldRef = errors.New("invalid field reference")

// FieldRef addresses a (possibly nested) field inside an Event. The zero value
// refers to nothing and is never valid for reads or writes.
type FieldRef struct {
	path []string
}

// ParseFieldRef parses "name", "[name]" or "[a][b][c]" into a FieldRef.
func ParseFieldRef(raw string) (FieldRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return FieldRef{}, fmt.Errorf("%w: empty", ErrInvalidFieldRef)
	}
	if !strings.HasPrefix(s, "[") {
		if strings.ContainsAny(s, "[]") {
			return FieldRef{}, fmt.Errorf("%w: %q mixes bare and bracketed segments", ErrInvalidFieldRef, raw)
		}
		return FieldRef{path: []string{s}}, nil
	}

	var path []string
	for s != "" {
		if s[0] != '[' {
			return FieldRef{}, fmt.Errorf("%w: %q has text outside brackets", ErrInvalidFieldRef, raw)
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return FieldRef{}, fmt.Errorf("%w: %q is missing a closing bracket", ErrInvalidFieldRef, raw)
		}
		seg := s[1:end]
		if seg == "" || strings.ContainsRune(seg, '[') {
			return FieldRef{}, fmt.Errorf("%w: %q has an empty or nested segment", ErrInvalidFieldRef, raw)
		}
		path = append(path, seg)
		s = s[end+1:]
	}
	return FieldRef{path: path}, nil
}

// MustParseFieldRef is ParseFieldRef for constants; it panics on bad input.
func MustParseFieldRef(raw string) FieldRef {
	ref, err := ParseFieldRef(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

// Field returns a single-segment reference without parsing, so names that
// contain brackets are taken literally.
func Field(name string) FieldRef {
	return FieldRef{path: []string{name}}
}

// Child returns a new reference one level below r. The name is literal.
func (r FieldRef) Child(name string) FieldRef {
	path := make([]string, len(r.path), len(r.path)+1)
	copy(path, r.path)
	return FieldRef{path: append(path, name)}
}

// Segments returns a copy of the path segments.
func (r FieldRef) Segments() []string {
	return append([]string(nil), r.path...)
}

// IsZero reports whether r refers to nothing.
func (r FieldRef) IsZero() bool {
	return len(r.path) == 0
}

// String renders r in bracketed form.
func (r FieldRef) String() string {
	var b strings.Builder
	for _, seg := range r.path {
		b.WriteByte('[')
		b.WriteString(seg)
		b.WriteByte(']')
	}
	return b.String()
}
