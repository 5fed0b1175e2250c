package db

import "sync"

// Keys kept in the volatile session storage by the navigation bookkeeping.
const (
	LastOnlinePathKey = "lastOnlinePath"
	OfflinePathKey    = "offlinePath"
)

// SessionStorage is process-scoped key/value storage. Unlike Token it is
// never written to disk and is lost on exit.
type SessionStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSessionStorage returns empty storage.
func NewSessionStorage() *SessionStorage {
	return &SessionStorage{values: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (s *SessionStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *SessionStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *SessionStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
