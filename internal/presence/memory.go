package presence

import (
	"context"
	"errors"
	"time"

	"github.com/c-pro/geche"
)

// MemoryStore keeps heartbeats in process. Entries expire on their own after ttl.
type MemoryStore struct {
	cache geche.Geche[string, int64]
}

// NewMemoryStore creates the store. The cleanup goroutine stops when ctx is done.
func NewMemoryStore(ctx context.Context, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: geche.NewMapTTLCache[string, int64](ctx, ttl, ttl/2),
	}
}

func (s *MemoryStore) SetLastSeen(_ context.Context, participantID string, at time.Time) error {
	s.cache.Set(participantID, at.UnixMilli())
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, participantID string) (time.Time, bool, error) {
	ms, err := s.cache.Get(participantID)
	if errors.Is(err, geche.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, participantID string) error {
	err := s.cache.Del(participantID)
	if errors.Is(err, geche.ErrNotFound) {
		return nil
	}
	return err
}
