// Package inmem provides a map-backed artifact store for tests and local
// development.
package inmem

import (
	"context"
	"sync"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/blob"
)

type object struct {
	contentType string
	body        []byte
	meta        map[string]string
}

// Store keeps artifacts in memory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

var _ blob.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores a copy of body under key and returns a memory URL.
func (s *Store) Put(_ context.Context, key, contentType string, body []byte, meta map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var metaCopy map[string]string
	if len(meta) > 0 {
		metaCopy = make(map[string]string, len(meta))
		for k, v := range meta {
			metaCopy[k] = v
		}
	}
	s.objects[key] = object{contentType: contentType, body: append([]byte(nil), body...), meta: metaCopy}
	return "memory://" + key, nil
}

// Get returns a copy of the artifact stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return append([]byte(nil), o.body...), nil
}

// ContentType reports the stored content type for key, empty when absent.
func (s *Store) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}

// Metadata reports the metadata stored with key, nil when absent.
func (s *Store) Metadata(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].meta
}
