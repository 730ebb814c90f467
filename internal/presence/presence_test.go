package presence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type failingStore struct{}

func (failingStore) SetLastSeen(context.Context, string, time.Time) error {
	return errors.New("backend down")
}

func (failingStore) LastSeen(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("backend down")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("backend down")
}

func newTestTracker(t *testing.T, store Store, threshold time.Duration) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	tr := NewTracker(store, threshold, nil)
	tr.now = clock.Now
	return tr, clock
}

func TestTracker_IsOnline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, clock := newTestTracker(t, NewMemoryStore(ctx, time.Hour), 30*time.Second)

	require.False(t, tr.IsOnline(ctx, "staff-1"), "never seen")

	require.NoError(t, tr.Heartbeat(ctx, "staff-1"))
	require.True(t, tr.IsOnline(ctx, "staff-1"))

	clock.Advance(29 * time.Second)
	require.True(t, tr.IsOnline(ctx, "staff-1"))

	// Exactly at the threshold the participant is offline
	clock.Advance(time.Second)
	require.False(t, tr.IsOnline(ctx, "staff-1"))

	// The next heartbeat brings it back
	require.NoError(t, tr.Heartbeat(ctx, "staff-1"))
	require.True(t, tr.IsOnline(ctx, "staff-1"))

	at, ok := tr.LastSeen(ctx, "staff-1")
	require.True(t, ok)
	require.Equal(t, clock.now.UnixMilli(), at.UnixMilli())

	// Other participants are independent
	require.False(t, tr.IsOnline(ctx, "staff-2"))
}

func TestTracker_MarkOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, _ := newTestTracker(t, NewMemoryStore(ctx, time.Hour), 30*time.Second)

	require.NoError(t, tr.Heartbeat(ctx, "subject-1"))
	tr.MarkOffline(ctx, "subject-1")
	require.False(t, tr.IsOnline(ctx, "subject-1"))

	// Unknown participants are fine
	tr.MarkOffline(ctx, "nobody")
}

func TestTracker_BackendFailure(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, failingStore{}, time.Second)

	require.Error(t, tr.Heartbeat(ctx, "u1"))
	require.False(t, tr.IsOnline(ctx, "u1"))
	tr.MarkOffline(ctx, "u1")
}

func TestTracker_DefaultThreshold(t *testing.T) {
	tr := NewTracker(failingStore{}, 0, nil)
	require.Equal(t, DefaultThreshold, tr.Threshold())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MEALCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEALCHAT_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	require.NoError(t, client.Ping(ctx).Err())

	tr, clock := newTestTracker(t, NewRedisStore(client, time.Minute), 30*time.Second)
	id := "staff-" + uuid.NewString()

	require.False(t, tr.IsOnline(ctx, id))
	require.NoError(t, tr.Heartbeat(ctx, id))
	require.True(t, tr.IsOnline(ctx, id))

	ttl, err := client.TTL(ctx, keyPrefix+id).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	clock.Advance(31 * time.Second)
	require.False(t, tr.IsOnline(ctx, id))

	tr.MarkOffline(ctx, id)
	_, ok := tr.LastSeen(ctx, id)
	require.False(t, ok)
}
