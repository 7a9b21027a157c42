// Package memory keeps documents and blobs in process memory. It is used by
// tests and by single-process deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/digitorus/signflow"
)

// Ensure the stores implement the ports.
var (
	_ signflow.Store     = (*Store)(nil)
	_ signflow.BlobStore = (*Blobs)(nil)
)

// Store is an in-memory signflow.Store. Documents are copied on the way in
// and out.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*signflow.Document
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[string]*signflow.Document)}
}

// Create stores a new document.
func (s *Store) Create(_ context.Context, doc *signflow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if err := doc.AuditTrail.Verify(); err != nil {
		return err
	}
	doc.Version = 1
	s.docs[doc.ID] = doc.Clone()
	return nil
}

// Load returns a copy of the document.
func (s *Store) Load(_ context.Context, id string) (*signflow.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, signflow.ErrNotFound)
	}
	return doc.Clone(), nil
}

// Save replaces the stored document.
func (s *Store) Save(_ context.Context, doc *signflow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[doc.ID]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.ID, signflow.ErrNotFound)
	}
	if prev.Version != doc.Version {
		return fmt.Errorf("document %s version %d, stored %d: %w", doc.ID, doc.Version, prev.Version, signflow.ErrConflict)
	}
	if !doc.AuditTrail.Extends(prev.AuditTrail) {
		return fmt.Errorf("document %s: audit trail does not extend the stored trail", doc.ID)
	}
	if err := doc.AuditTrail.Verify(); err != nil {
		return err
	}
	doc.Version++
	s.docs[doc.ID] = doc.Clone()
	return nil
}

// ListExpirable returns the ids of non-terminal documents that expired
// before now, sorted.
func (s *Store) ListExpirable(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, doc := range s.docs {
		if doc.ExpiryDue(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Blobs is an in-memory signflow.BlobStore.
type Blobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewBlobs creates an empty blob store.
func NewBlobs() *Blobs {
	return &Blobs{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under key.
func (b *Blobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the data stored under key.
func (b *Blobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, signflow.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Blobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}

// Keys returns the stored keys, sorted.
func (b *Blobs) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
