package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mealchat/internal/content"
	"mealchat/internal/models"
)

const (
	DefaultMaxRecords = 200
	DefaultPageSize   = 500
)

// Store is the durable part of the log. Seq assignment happens in Log, the store only
// has to keep messages ordered by seq within a conversation.
type Store interface {
	AppendMessage(ctx context.Context, message models.Message) error
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error)
	LastMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string, seqs []int64) error
}

// Observer is notified of appends. Calls are made while the conversation is locked,
// so they arrive in log order and must not block.
type Observer interface {
	MessageAppended(message models.Message)
}

type Config struct {
	Store      Store
	Observer   Observer
	MaxRecords int // Recent messages kept in memory per conversation
	PageSize   int // Upper bound of a single ListSince result
}

// Log is the append-only message log. Appends are serialized per conversation,
// different conversations never contend with each other.
type Log struct {
	store      Store
	observer   Observer
	maxRecords int
	pageSize   int
	now        func() time.Time

	conversations map[string]*conversation
	mu            sync.Mutex
}

func New(config Config) *Log {
	if config.MaxRecords <= 0 {
		config.MaxRecords = DefaultMaxRecords
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	return &Log{
		store:         config.Store,
		observer:      config.Observer,
		maxRecords:    config.MaxRecords,
		pageSize:      config.PageSize,
		now:           time.Now,
		conversations: make(map[string]*conversation),
	}
}

// SetObserver replaces the observer. It must be called before the log is used.
func (l *Log) SetObserver(o Observer) {
	l.observer = o
}

func (l *Log) conversation(id string) *conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.conversations[id]
	if !ok {
		c = newConversation(id, l.maxRecords)
		l.conversations[id] = c
	}
	return c
}

// Append validates and appends a message, assigning its seq and server timestamp.
// The body is stored as sent. The message is durable when Append returns without error.
func (l *Log) Append(ctx context.Context, conversationID, senderID string, role models.Role, body string) (models.Message, error) {
	if conversationID == "" || senderID == "" {
		return models.Message{}, fmt.Errorf("%w: conversation and sender are required", models.ErrInvalidInput)
	}
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, role)
	}
	if content.IsEmpty(body) {
		return models.Message{}, fmt.Errorf("%w: empty message body", models.ErrInvalidInput)
	}

	c := l.conversation(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx, l.store); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		Seq:            c.lastSeq + 1,
		Timestamp:      max(l.now().UnixMilli(), c.lastTimestamp),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Body:           body,
	}
	if err := l.store.AppendMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	c.addRecord(msg)

	if l.observer != nil {
		l.observer.MessageAppended(msg)
	}
	return msg, nil
}

// ListSince returns messages with seq greater than cursor, oldest first.
// limit is clamped to the configured page size; zero means a full page.
func (l *Log) ListSince(ctx context.Context, conversationID string, cursor int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > l.pageSize {
		limit = l.pageSize
	}
	cursor = max(cursor, 0)

	c := l.conversation(conversationID)
	c.mu.Lock()
	if err := c.load(ctx, l.store); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if records, ok := c.getRecords(cursor+1, limit); ok {
		c.mu.Unlock()
		return records, nil
	}
	c.mu.Unlock()

	// Cursor is older than the in-memory window
	messages, err := l.store.ListMessages(ctx, conversationID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// MarkRead flips the read flag of every unread message in the conversation that was
// not sent by readerID and returns the seqs that changed. Calling it again without new
// messages changes nothing.
func (l *Log) MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	if conversationID == "" || readerID == "" {
		return nil, fmt.Errorf("%w: conversation and reader are required", models.ErrInvalidInput)
	}

	c := l.conversation(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx, l.store); err != nil {
		return nil, err
	}

	pending, err := l.store.ListMessages(ctx, conversationID, c.readFloor, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	// Everything at or below the floor is read, whoever sent it.
	var seqs []int64
	floor, ownUnread := c.lastSeq, false
	for _, m := range pending {
		if m.Read {
			continue
		}
		if m.SenderID == readerID {
			if !ownUnread {
				floor, ownUnread = m.Seq-1, true
			}
			continue
		}
		seqs = append(seqs, m.Seq)
	}

	if len(seqs) > 0 {
		if err := l.store.MarkRead(ctx, conversationID, seqs); err != nil {
			return nil, fmt.Errorf("failed to mark messages read: %w", err)
		}
		c.markRead(seqs)
	}
	c.readFloor = floor
	return seqs, nil
}

// Sync runs fn serialized with appends to the conversation, passing the seq of the
// last appended message. Nothing is appended while fn runs.
func (l *Log) Sync(ctx context.Context, conversationID string, fn func(lastSeq int64)) error {
	c := l.conversation(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx, l.store); err != nil {
		return err
	}
	fn(c.lastSeq)
	return nil
}
