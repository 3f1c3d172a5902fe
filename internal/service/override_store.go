package service

import (
	"context"
	"maps"
	"sync"
)

// StoredFlagState is the persisted shape of one flag: {"enabled": bool}.
type StoredFlagState struct {
	Enabled bool `json:"enabled"`
}

// OverrideSnapshot maps flag key to its persisted enabled state.
type OverrideSnapshot map[string]StoredFlagState

// OverrideStore is the best-effort local persistence of flag enabled state.
// The backend stays authoritative; implementations may lose data.
type OverrideStore interface {
	Save(ctx context.Context, snapshot OverrideSnapshot) error
	Load(ctx context.Context) (OverrideSnapshot, error)
	Clear(ctx context.Context) error
}

type NoopOverrideStore struct{}

func NewNoopOverrideStore() *NoopOverrideStore {
	return &NoopOverrideStore{}
}

func (s *NoopOverrideStore) Save(context.Context, OverrideSnapshot) error { return nil }

func (s *NoopOverrideStore) Load(context.Context) (OverrideSnapshot, error) {
	return OverrideSnapshot{}, nil
}

func (s *NoopOverrideStore) Clear(context.Context) error { return nil }

type InMemoryOverrideStore struct {
	mu       sync.RWMutex
	snapshot OverrideSnapshot
}

func NewInMemoryOverrideStore() *InMemoryOverrideStore {
	return &InMemoryOverrideStore{snapshot: OverrideSnapshot{}}
}

func (s *InMemoryOverrideStore) Save(_ context.Context, snapshot OverrideSnapshot) error {
	s.mu.Lock()
	s.snapshot = maps.Clone(snapshot)
	if s.snapshot == nil {
		s.snapshot = OverrideSnapshot{}
	}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryOverrideStore) Load(context.Context) (OverrideSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.snapshot), nil
}

func (s *InMemoryOverrideStore) Clear(context.Context) error {
	s.mu.Lock()
	s.snapshot = OverrideSnapshot{}
	s.mu.Unlock()
	return nil
}
