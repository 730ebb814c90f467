package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"mealchat/internal/models"

	"go.uber.org/zap"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type conversationHub interface {
	Send(ctx context.Context, conversationID string, sender models.Participant, body string) (models.Message, error)
	ListSince(ctx context.Context, participant models.Participant, conversationID string, cursor int64, limit int) ([]models.Message, error)
	SetTyping(participant models.Participant, conversationID string) error
	MarkRead(ctx context.Context, participant models.Participant, conversationID string) ([]int64, error)
}

type presenceTracker interface {
	Heartbeat(ctx context.Context, participantID string) error
	MarkOffline(ctx context.Context, participantID string)
}

type subscription interface {
	Events() <-chan models.Event
	Err() error
}

// Connection serves one subscription over one socket: it replays the history the
// client missed, then streams live events and handles client frames.
type Connection struct {
	ws             wsConnection
	hub            conversationHub
	presence       presenceTracker
	participant    models.Participant
	conversationID string
	sub            subscription
	since          int64
	cursor         int64
	fromClient     chan models.ClientMessage
	errorCh        chan error
	logger         *zap.Logger
}

type ConnectionConfig struct {
	Participant    models.Participant
	ConversationID string
	Subscription   subscription
	Since          int64 // Last seq the client has
	Cursor         int64 // Last seq covered by the replay, live events start after it
}

func NewConnection(
	hub conversationHub,
	presence presenceTracker,
	ws wsConnection,
	config ConnectionConfig,
	logger *zap.Logger,
) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		ws:             ws,
		hub:            hub,
		presence:       presence,
		participant:    config.Participant,
		conversationID: config.ConversationID,
		sub:            config.Subscription,
		since:          config.Since,
		cursor:         config.Cursor,
		fromClient:     make(chan models.ClientMessage),
		errorCh:        make(chan error, 2),
		logger: logger.With(
			zap.String("conversation_id", config.ConversationID),
			zap.String("participant_id", config.Participant.ID),
		),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		close(c.errorCh)
		c.presence.MarkOffline(context.WithoutCancel(ctx), c.participant.ID)
	}()

	if err := c.presence.Heartbeat(ctx, c.participant.ID); err != nil {
		c.logger.Warn("heartbeat failed", zap.Error(err))
	}

	if err := c.replay(ctx); err != nil {
		c.ws.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// replay sends the messages between since and the subscription cursor.
func (c *Connection) replay(ctx context.Context) error {
	cursor := c.since
	for cursor < c.cursor {
		page, err := c.hub.ListSince(ctx, c.participant, c.conversationID, cursor, 0)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, msg := range page {
			if msg.Seq > c.cursor {
				return nil
			}
			if err := c.ws.WriteJSON(models.Event{
				Type:           models.EventMessage,
				ConversationID: c.conversationID,
				Message:        &msg,
				Timestamp:      msg.Timestamp,
			}); err != nil {
				return err
			}
			cursor = msg.Seq
		}
	}
	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case event, ok := <-c.sub.Events():
			if !ok {
				// Dropped by the hub, the client reconnects from its last seq
				if err := c.sub.Err(); err != nil {
					return err
				}
				return nil
			}
			if err := c.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) error {
	var err error
	switch msg.Type {
	case models.ClientMessageTypeSend:
		_, err = c.hub.Send(ctx, c.conversationID, c.participant, msg.Body)
	case models.ClientMessageTypeTyping:
		err = c.hub.SetTyping(c.participant, c.conversationID)
	case models.ClientMessageTypeRead:
		_, err = c.hub.MarkRead(ctx, c.participant, c.conversationID)
	case models.ClientMessageTypeHeartbeat:
		err = c.presence.Heartbeat(ctx, c.participant.ID)
	default:
		err = errors.New("unknown frame type")
	}
	if err == nil {
		return nil
	}

	c.logger.Debug("client frame rejected", zap.String("type", string(msg.Type)), zap.Error(err))
	return c.ws.WriteJSON(models.Event{
		Type:           models.EventError,
		ConversationID: c.conversationID,
		Error:          err.Error(),
		Timestamp:      time.Now().UnixMilli(),
	})
}
