package chat

import (
	"context"
	"fmt"
	"sync"

	"mealchat/internal/models"
)

// conversation holds the append position of one conversation and a ring buffer with
// its most recent messages.
type conversation struct {
	id            string
	records       []models.Message
	firstSeq      int64 // Seq of the oldest record in the ring, 0 when empty
	lastSeq       int64
	lastIndex     int
	maxRecords    int
	lastTimestamp int64
	readFloor     int64 // Every message with seq <= readFloor is read
	loaded        bool

	mu sync.Mutex
}

func newConversation(id string, maxRecords int) *conversation {
	return &conversation{
		id:         id,
		maxRecords: maxRecords,
		lastIndex:  -1,
	}
}

// load primes the ring from the store the first time the conversation is touched.
func (c *conversation) load(ctx context.Context, store Store) error {
	if c.loaded {
		return nil
	}
	recent, err := store.LastMessages(ctx, c.id, c.maxRecords)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", c.id, err)
	}
	for _, m := range recent {
		c.addRecord(m)
	}
	c.loaded = true
	return nil
}

// addRecord puts a message into the ring buffer and advances the append position.
func (c *conversation) addRecord(record models.Message) {
	c.lastSeq = record.Seq
	c.lastTimestamp = record.Timestamp

	switch {
	case len(c.records) < c.maxRecords:
		if c.firstSeq == 0 {
			c.firstSeq = record.Seq
		}
		c.records = append(c.records, record)
		c.lastIndex++
	default:
		c.firstSeq++
		i := (c.lastIndex + 1) % c.maxRecords
		c.records[i] = record
		c.lastIndex = i
	}
}

// head returns the ring index of the oldest record.
func (c *conversation) head() int {
	if len(c.records) == c.maxRecords {
		return (c.lastIndex + 1) % c.maxRecords
	}
	return 0
}

// getRecords copies up to limit records starting at seq from. ok is false when from is
// older than the ring window and the caller has to go to the store.
func (c *conversation) getRecords(from int64, limit int) ([]models.Message, bool) {
	if from > c.lastSeq {
		return []models.Message{}, true
	}
	if len(c.records) == 0 || from < c.firstSeq {
		return nil, false
	}

	count := min(int(c.lastSeq-from+1), limit)
	result := make([]models.Message, count)

	startIdx := (c.head() + int(from-c.firstSeq)) % len(c.records)
	if startIdx+count <= len(c.records) {
		copy(result, c.records[startIdx:startIdx+count])
	} else {
		n1 := len(c.records) - startIdx
		copy(result, c.records[startIdx:])
		copy(result[n1:], c.records[:count-n1])
	}

	return result, true
}

func (c *conversation) markRead(seqs []int64) {
	if len(c.records) == 0 {
		return
	}
	head := c.head()
	for _, seq := range seqs {
		if seq < c.firstSeq || seq > c.lastSeq {
			continue
		}
		i := (head + int(seq-c.firstSeq)) % len(c.records)
		c.records[i].Read = true
	}
}
