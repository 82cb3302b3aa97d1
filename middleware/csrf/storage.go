package csrf

import (
	"time"

	"github.com/goliatone/go-entree/cache"
)

// MemoryStorage keeps tokens in process, they expire after ttl
type MemoryStorage struct {
	tokens *cache.Store[string, string]
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{tokens: cache.New[string, string](ttl)}
}

func (s *MemoryStorage) Get(key string) (string, error) {
	token, ok := s.tokens.Get(key)
	if !ok {
		return "", ErrTokenMissing
	}
	return token, nil
}

// Set stores value, expiration is fixed by the store ttl
func (s *MemoryStorage) Set(key string, value string, _ time.Duration) error {
	s.tokens.Set(key, value)
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.tokens.Delete(key)
	return nil
}
