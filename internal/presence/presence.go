package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultThreshold = 30 * time.Second

// Store keeps the last heartbeat per participant.
type Store interface {
	SetLastSeen(ctx context.Context, participantID string, at time.Time) error
	// LastSeen returns ok == false when the participant never sent a heartbeat
	// or was marked offline.
	LastSeen(ctx context.Context, participantID string) (at time.Time, ok bool, err error)
	Delete(ctx context.Context, participantID string) error
}

// Tracker derives online state from heartbeats. Nothing but the heartbeat time is
// stored, online is always computed against the current clock.
type Tracker struct {
	store     Store
	threshold time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewTracker(store Store, threshold time.Duration, logger *zap.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// Heartbeat records that the participant is alive right now.
func (t *Tracker) Heartbeat(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	return t.store.SetLastSeen(ctx, participantID, t.now())
}

// IsOnline reports whether the last heartbeat is younger than the threshold.
// Backend failures read as offline, so the caller falls back to notifications.
func (t *Tracker) IsOnline(ctx context.Context, participantID string) bool {
	at, ok := t.LastSeen(ctx, participantID)
	if !ok {
		return false
	}
	return t.now().Sub(at) < t.threshold
}

// LastSeen returns the time of the last heartbeat, if any.
func (t *Tracker) LastSeen(ctx context.Context, participantID string) (time.Time, bool) {
	at, ok, err := t.store.LastSeen(ctx, participantID)
	if err != nil {
		t.logger.Warn("presence lookup failed",
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
		return time.Time{}, false
	}
	return at, ok
}

// MarkOffline drops the heartbeat record. It is best effort.
func (t *Tracker) MarkOffline(ctx context.Context, participantID string) {
	if err := t.store.Delete(ctx, participantID); err != nil {
		t.logger.Warn("failed to mark participant offline",
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
	}
}
