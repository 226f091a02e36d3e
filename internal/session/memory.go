package session

import (
	"context"
	"sync"
)

// MemoryStore keeps fingerprints in process memory. It is meant for tests and
// single-instance development; fingerprints do not survive a restart.
type MemoryStore struct {
	mu           sync.Mutex
	fingerprints map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fingerprints: make(map[string]string)}
}

func (s *MemoryStore) Fingerprint(_ context.Context, identityID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprints[identityID], nil
}

func (s *MemoryStore) Rotate(_ context.Context, identityID, expected, next string) error {
	if next == "" {
		return ErrEmptyFingerprint
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fingerprints[identityID] != expected {
		return ErrConflict
	}
	s.fingerprints[identityID] = next
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fingerprints, identityID)
	return nil
}
