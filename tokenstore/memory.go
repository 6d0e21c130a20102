package tokenstore

import (
	"context"
	"sync"
)

// Memory is an in-process revocation store. Useful for development and
// tests; revocations do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]string{}}
}

func (s *Memory) IsRevoked(_ context.Context, token string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, found := s.entries[token]
	return value, found, nil
}

func (s *Memory) Revoke(_ context.Context, token, timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = timestamp
	return nil
}

// Len reports how many tokens have been revoked.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
