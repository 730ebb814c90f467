package typing

import (
	"sync"
	"time"

	"mealchat/internal/models"
)

const DefaultIdle = time.Second

// ChangeFunc receives typing transitions. It is called with the channel locked,
// so transitions of one indicator arrive in order. It must not block or call back
// into the Channel.
type ChangeFunc func(conversationID string, direction models.Role, typing bool, at time.Time)

type key struct {
	conversationID string
	direction      models.Role
}

type indicator struct {
	typing bool
	since  time.Time
	gen    uint64 // Bumped on every Set/Clear, a timer carrying an older value is stale
	timer  *time.Timer
}

// Channel holds ephemeral typing flags per conversation and direction. A flag
// clears itself after the idle window unless it is set again.
type Channel struct {
	idle     time.Duration
	onChange ChangeFunc
	now      func() time.Time

	mu         sync.Mutex
	indicators map[key]*indicator
}

func New(idle time.Duration, onChange ChangeFunc) *Channel {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Channel{
		idle:       idle,
		onChange:   onChange,
		now:        time.Now,
		indicators: make(map[key]*indicator),
	}
}

// Set marks the direction as typing and pushes the auto clear out by one idle window.
// Only the false to true edge is reported.
func (c *Channel) Set(conversationID string, direction models.Role) {
	k := key{conversationID, direction.Direction()}

	c.mu.Lock()
	defer c.mu.Unlock()

	ind, ok := c.indicators[k]
	if !ok {
		ind = &indicator{}
		c.indicators[k] = ind
	}
	if ind.timer != nil {
		ind.timer.Stop()
	}
	ind.gen++
	gen := ind.gen
	ind.timer = time.AfterFunc(c.idle, func() { c.expire(k, gen) })

	if ind.typing {
		return
	}
	ind.typing = true
	ind.since = c.now()
	c.emit(k, true, ind.since)
}

// Clear drops the flag immediately, for example when the typist sends the message.
func (c *Channel) Clear(conversationID string, direction models.Role) {
	k := key{conversationID, direction.Direction()}

	c.mu.Lock()
	defer c.mu.Unlock()

	ind, ok := c.indicators[k]
	if !ok {
		return
	}
	c.clear(k, ind)
}

func (c *Channel) IsTyping(conversationID string, direction models.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ind, ok := c.indicators[key{conversationID, direction.Direction()}]
	return ok && ind.typing
}

// Close stops all pending timers. No transitions are reported afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ind := range c.indicators {
		if ind.timer != nil {
			ind.timer.Stop()
		}
		delete(c.indicators, k)
	}
}

func (c *Channel) expire(k key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ind, ok := c.indicators[k]
	if !ok || ind.gen != gen {
		return
	}
	c.clear(k, ind)
}

func (c *Channel) clear(k key, ind *indicator) {
	if ind.timer != nil {
		ind.timer.Stop()
		ind.timer = nil
	}
	ind.gen++
	delete(c.indicators, k)

	if ind.typing {
		c.emit(k, false, c.now())
	}
}

func (c *Channel) emit(k key, typing bool, at time.Time) {
	if c.onChange != nil {
		c.onChange(k.conversationID, k.direction, typing, at)
	}
}
