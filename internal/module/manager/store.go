package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/module"
)

// Record is the persisted state of a discovered module.
type Record struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Type         module.Type `json:"type"`
	Path         string      `json:"path"`
	Dependencies []string    `json:"dependencies"`
	Enabled      bool        `json:"enabled"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Store defines persistence for module records.
type Store interface {
	// Upsert inserts or updates a record by name.
	Upsert(ctx context.Context, record *Record) error
	// Get returns the record for name, or nil if absent.
	Get(ctx context.Context, name string) (*Record, error)
	// List returns all records.
	List(ctx context.Context) ([]*Record, error)
	// SetEnabled toggles the enabled flag for name.
	SetEnabled(ctx context.Context, name string, enabled bool) error
	// Close releases store resources.
	Close() error
}

// MemoryStore provides in-memory module record storage.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Upsert inserts or updates a record by name.
func (s *MemoryStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.records[record.Name]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	clone := *record
	s.records[record.Name] = &clone
	return nil
}

// Get returns the record for name, or nil if absent.
func (s *MemoryStore) Get(ctx context.Context, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[name]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

// List returns all records.
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		clone := *record
		result = append(result, &clone)
	}
	return result, nil
}

// SetEnabled toggles the enabled flag for name. Unknown names are an error.
func (s *MemoryStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrModuleNotFound, name)
	}
	record.Enabled = enabled
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
