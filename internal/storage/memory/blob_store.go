// Package memory stores events, archives and stage traces in-memory for
// development.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrArchiveConflict is returned when a path is reused for different content.
var ErrArchiveConflict = errors.New("archive path already holds different content")

// Archive is one stored event body.
type Archive struct {
	Path        string
	ContentType string
	Body        []byte
}

// BlobStore keeps archived events keyed by path. Archive paths carry the
// content hash, so rewriting identical bytes is a no-op.
type BlobStore struct {
	mu       sync.RWMutex
	archives map[string]Archive
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{archives: make(map[string]Archive)}
}

// PutObject stores the body read from data and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read archive body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.archives[path]; ok && !bytes.Equal(prev.Body, body) {
		return "", fmt.Errorf("%s: %w", path, ErrArchiveConflict)
	}
	s.archives[path] = Archive{Path: path, ContentType: contentType, Body: body}
	return "memory://" + path, nil
}

// Get returns a copy of the archive stored at path.
func (s *BlobStore) Get(path string) (Archive, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archives[path]
	if !ok {
		return Archive{}, false
	}
	a.Body = append([]byte(nil), a.Body...)
	return a, true
}

// Paths lists stored archive paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.archives))
	for p := range s.archives {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
