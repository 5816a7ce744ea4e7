// Package memory keeps payloads in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/writeup-search/internal/writeup"
)

// BlobStore stores payloads in a map and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[writeup.ID]writeup.RawPayload
	puts int
}

// NewBlobStore creates a new in-memory payload store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[writeup.ID]writeup.RawPayload),
	}
}

// Put stores a copy of the payload, replacing any earlier one for the same identifier.
func (s *BlobStore) Put(_ context.Context, payload writeup.RawPayload) (string, error) {
	if payload.ID <= 0 {
		return "", fmt.Errorf("invalid identifier %d", payload.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload.Content = append([]byte(nil), payload.Content...)
	s.data[payload.ID] = payload
	s.puts++
	return fmt.Sprintf("memory://%s.html", payload.ID), nil
}

// Get returns a copy of the stored payload.
func (s *BlobStore) Get(_ context.Context, id writeup.ID) (writeup.RawPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.data[id]
	if !ok {
		return writeup.RawPayload{}, fmt.Errorf("read payload %s: %w", id, writeup.ErrNotFound)
	}
	payload.Content = append([]byte(nil), payload.Content...)
	return payload, nil
}

// Exists reports whether id has been stored.
func (s *BlobStore) Exists(_ context.Context, id writeup.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok, nil
}

// List returns the stored identifiers in ascending order.
func (s *BlobStore) List(_ context.Context) ([]writeup.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]writeup.ID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
