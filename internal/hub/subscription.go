package hub

import (
	"sync"

	"mealchat/internal/models"
)

// Subscription is a live view of one conversation. Events carries every message
// appended after Cursor, in log order, plus typing and read events. The channel is
// closed on Unsubscribe, on hub shutdown, or when the subscriber falls behind; in the
// last case Err returns models.ErrLagged and the subscriber resyncs with ListSince.
type Subscription struct {
	ID             string
	ConversationID string
	Participant    models.Participant
	Cursor         int64

	events chan models.Event
	closed bool // guarded by Hub.mu

	mu  sync.Mutex
	err error
}

func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// close must be called with Hub.mu held.
func (s *Subscription) close(err error) {
	if s.closed {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closed = true
	close(s.events)
}
