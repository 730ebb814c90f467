package receipts

import (
	"context"
	"fmt"
	"time"

	"mealchat/internal/models"
)

// Marker flips read flags in the message log and reports the seqs that changed.
type Marker interface {
	MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error)
}

// PublishFunc hands a read event to the conversation subscribers.
type PublishFunc func(event models.Event)

// Propagator turns read flag changes into read events. A read event only names
// seqs that were already appended, so subscribers always see it after those messages.
type Propagator struct {
	marker  Marker
	publish PublishFunc
	now     func() time.Time
}

func New(marker Marker, publish PublishFunc) *Propagator {
	return &Propagator{
		marker:  marker,
		publish: publish,
		now:     time.Now,
	}
}

// MarkRead marks everything the reader has not sent as read and publishes one read
// event for the seqs that changed. A repeated call with no new messages returns no
// seqs and publishes nothing.
func (p *Propagator) MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	seqs, err := p.marker.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if len(seqs) == 0 {
		return []int64{}, nil
	}

	if p.publish != nil {
		p.publish(models.Event{
			Type:           models.EventRead,
			ConversationID: conversationID,
			ReaderID:       readerID,
			Seqs:           seqs,
			Timestamp:      p.now().UnixMilli(),
		})
	}
	return seqs, nil
}
