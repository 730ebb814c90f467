package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mealchat/internal/chat"
	"mealchat/internal/models"
	"mealchat/internal/receipts"
	"mealchat/internal/typing"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSubscriberBuffer = 64
	DefaultResponderID      = "responder"
)

var errClosed = errors.New("hub is closed")

// ConversationStore keeps per conversation settings.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	UpsertConversation(ctx context.Context, conv models.Conversation) error
}

type Presence interface {
	IsOnline(ctx context.Context, participantID string) bool
}

type Dispatcher interface {
	Dispatch(conversationID, recipientID, senderName, body string) bool
}

// Replier answers subject messages. It returns text to post even when it fails,
// see responder.Adapter.
type Replier interface {
	Reply(ctx context.Context, conversationID, prompt string) (string, error)
	Fallback() string
}

type Config struct {
	Log              *chat.Log
	Conversations    ConversationStore
	Presence         Presence
	Notifications    Dispatcher
	Responder        Replier
	ResponderID      string
	DefaultStaffID   string
	TypingIdle       time.Duration
	SubscriberBuffer int
	Logger           *zap.Logger
}

// Hub connects the message log with live subscribers, typing, read receipts,
// offline notifications and the automated responder.
type Hub struct {
	log            *chat.Log
	conversations  ConversationStore
	presence       Presence
	notifications  Dispatcher
	responder      Replier
	responderID    string
	defaultStaffID string
	buffer         int
	typingIdle     time.Duration
	logger         *zap.Logger

	typing   *typing.Channel
	receipts *receipts.Propagator

	metaMu sync.Mutex
	meta   geche.Geche[string, models.Conversation]

	mu          sync.Mutex
	subscribers map[string]map[string]*Subscription
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(config Config) *Hub {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if config.ResponderID == "" {
		config.ResponderID = DefaultResponderID
	}
	if config.TypingIdle <= 0 {
		config.TypingIdle = typing.DefaultIdle
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:            config.Log,
		conversations:  config.Conversations,
		presence:       config.Presence,
		notifications:  config.Notifications,
		responder:      config.Responder,
		responderID:    config.ResponderID,
		defaultStaffID: config.DefaultStaffID,
		buffer:         config.SubscriberBuffer,
		typingIdle:     config.TypingIdle,
		logger:         config.Logger,
		meta:           geche.NewMapCache[string, models.Conversation](),
		subscribers:    make(map[string]map[string]*Subscription),
		ctx:            ctx,
		cancel:         cancel,
	}
	h.typing = typing.New(config.TypingIdle, h.typingChanged)
	h.receipts = receipts.New(config.Log, h.publish)
	config.Log.SetObserver(h)
	return h
}

// authorize checks that the participant may act on the conversation. Subjects only
// see their own conversation, the responder role is internal.
func authorize(p models.Participant, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", models.ErrInvalidInput)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: anonymous participant", models.ErrForbidden)
	}
	switch p.Role {
	case models.RoleSubject:
		if p.ID != conversationID {
			return fmt.Errorf("%w: not a participant of this conversation", models.ErrForbidden)
		}
	case models.RoleStaff:
	default:
		return fmt.Errorf("%w: role %q cannot act on conversations", models.ErrForbidden, p.Role)
	}
	return nil
}

// Subscribe registers a live subscriber. The returned Cursor is the last seq in the
// log at registration, every later message is delivered through Events.
func (h *Hub) Subscribe(ctx context.Context, conversationID string, participant models.Participant) (*Subscription, error) {
	if err := authorize(participant, conversationID); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Participant:    participant,
		events:         make(chan models.Event, h.buffer),
	}

	var regErr error
	err := h.log.Sync(ctx, conversationID, func(lastSeq int64) {
		sub.Cursor = lastSeq

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			regErr = errClosed
			return
		}
		subs, ok := h.subscribers[conversationID]
		if !ok {
			subs = make(map[string]*Subscription)
			h.subscribers[conversationID] = subs
		}
		subs[sub.ID] = sub
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}

	h.logger.Debug("subscribed",
		zap.String("conversation_id", conversationID),
		zap.String("participant_id", participant.ID),
		zap.String("subscription_id", sub.ID),
		zap.Int64("cursor", sub.Cursor),
	)
	return sub, nil
}

// Unsubscribe stops delivery and closes the events channel. The log is not affected.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub, nil)
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription, err error) {
	if subs, ok := h.subscribers[sub.ConversationID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.subscribers, sub.ConversationID)
		}
	}
	sub.close(err)
}

// publish fans an event out to the conversation's subscribers without blocking.
// A subscriber whose queue is full is dropped.
func (h *Hub) publish(event models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers[event.ConversationID] {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("subscriber lagged, dropping",
				zap.String("conversation_id", event.ConversationID),
				zap.String("subscription_id", sub.ID),
			)
			h.remove(sub, models.ErrLagged)
		}
	}
}

// MessageAppended implements chat.Observer.
func (h *Hub) MessageAppended(message models.Message) {
	h.publish(models.Event{
		Type:           models.EventMessage,
		ConversationID: message.ConversationID,
		Message:        &message,
		Timestamp:      message.Timestamp,
	})
}

func (h *Hub) typingChanged(conversationID string, direction models.Role, isTyping bool, at time.Time) {
	h.publish(models.Event{
		Type:           models.EventTyping,
		ConversationID: conversationID,
		Role:           direction,
		Typing:         isTyping,
		Timestamp:      at.UnixMilli(),
	})
}

// Send appends a message and runs the follow ups: fan out, typing reset, offline
// notification and the automated reply. Only the append can fail the call.
func (h *Hub) Send(ctx context.Context, conversationID string, sender models.Participant, body string) (models.Message, error) {
	if err := authorize(sender, conversationID); err != nil {
		return models.Message{}, err
	}

	msg, err := h.log.Append(ctx, conversationID, sender.ID, sender.Role, body)
	if err != nil {
		return models.Message{}, err
	}

	h.typing.Clear(conversationID, sender.Role)

	conv := h.conversation(ctx, conversationID)
	if sender.Role == models.RoleStaff && conv.StaffID != sender.ID {
		conv = h.updateConversation(ctx, conversationID, func(c *models.Conversation) {
			c.StaffID = sender.ID
		})
	}

	if recipient := h.recipient(conv, sender); recipient != "" && h.notifications != nil {
		if h.presence == nil || !h.presence.IsOnline(ctx, recipient) {
			h.notifications.Dispatch(conversationID, recipient, displayName(sender), msg.Body)
		}
	}

	if conv.ResponderEnabled && sender.Role == models.RoleSubject && h.responder != nil {
		h.mu.Lock()
		if !h.closed {
			h.wg.Go(func() {
				h.respond(conversationID, msg)
			})
		}
		h.mu.Unlock()
	}

	return msg, nil
}

func displayName(p models.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// recipient picks who gets notified about a message. Subject messages go to the
// staff member who answered last, or to the default staff account.
func (h *Hub) recipient(conv models.Conversation, sender models.Participant) string {
	if sender.Role != models.RoleSubject {
		return conv.ID
	}
	if conv.StaffID != "" {
		return conv.StaffID
	}
	return h.defaultStaffID
}

// respond posts the automated reply to a subject message. The staff side shows as
// typing until the reply is appended.
func (h *Hub) respond(conversationID string, prompt models.Message) {
	ctx := h.ctx
	logger := h.logger.With(
		zap.String("conversation_id", conversationID),
		zap.Int64("prompt_seq", prompt.Seq),
	)

	h.typing.Set(conversationID, models.RoleResponder)
	stop := make(chan struct{})
	var keepAlive sync.WaitGroup
	keepAlive.Go(func() {
		ticker := time.NewTicker(max(h.typingIdle/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.typing.Set(conversationID, models.RoleResponder)
			case <-stop:
				return
			}
		}
	})

	reply, err := h.responder.Reply(ctx, conversationID, prompt.Body)
	close(stop)
	keepAlive.Wait()
	h.typing.Clear(conversationID, models.RoleResponder)

	if err != nil {
		logger.Warn("responder failed", zap.Error(err))
	}
	if reply == "" {
		return
	}

	_, err = h.log.Append(ctx, conversationID, h.responderID, models.RoleResponder, reply)
	if errors.Is(err, models.ErrInvalidInput) {
		// Nothing visible to post
		logger.Warn("responder reply rejected, posting fallback", zap.Error(err))
		_, err = h.log.Append(ctx, conversationID, h.responderID, models.RoleResponder, h.responder.Fallback())
	}
	if err != nil {
		logger.Error("failed to append responder reply", zap.Error(err))
	}
}

// conversation returns the settings of a conversation, defaults when it has none yet.
func (h *Hub) conversation(ctx context.Context, conversationID string) models.Conversation {
	if conv, err := h.meta.Get(conversationID); err == nil {
		return conv
	}

	conv, err := h.conversations.GetConversation(ctx, conversationID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		conv = models.Conversation{ID: conversationID}
	case err != nil:
		h.logger.Error("failed to load conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return models.Conversation{ID: conversationID}
	}
	h.meta.Set(conversationID, conv)
	return conv
}

func (h *Hub) updateConversation(ctx context.Context, conversationID string, fn func(c *models.Conversation)) models.Conversation {
	conv, _ := h.loadAndUpdate(ctx, conversationID, fn)
	return conv
}

func (h *Hub) loadAndUpdate(ctx context.Context, conversationID string, fn func(c *models.Conversation)) (models.Conversation, error) {
	h.metaMu.Lock()
	defer h.metaMu.Unlock()

	conv := h.conversation(ctx, conversationID)
	fn(&conv)
	if err := h.conversations.UpsertConversation(ctx, conv); err != nil {
		h.logger.Error("failed to save conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return conv, fmt.Errorf("failed to save conversation: %w", err)
	}
	h.meta.Set(conversationID, conv)
	return conv, nil
}

// ListSince returns the messages after cursor.
func (h *Hub) ListSince(ctx context.Context, participant models.Participant, conversationID string, cursor int64, limit int) ([]models.Message, error) {
	if err := authorize(participant, conversationID); err != nil {
		return nil, err
	}
	return h.log.ListSince(ctx, conversationID, cursor, limit)
}

// SetTyping marks the participant's side of the conversation as typing.
func (h *Hub) SetTyping(participant models.Participant, conversationID string) error {
	if err := authorize(participant, conversationID); err != nil {
		return err
	}
	h.typing.Set(conversationID, participant.Role)
	return nil
}

func (h *Hub) ClearTyping(participant models.Participant, conversationID string) error {
	if err := authorize(participant, conversationID); err != nil {
		return err
	}
	h.typing.Clear(conversationID, participant.Role)
	return nil
}

func (h *Hub) IsTyping(conversationID string, direction models.Role) bool {
	return h.typing.IsTyping(conversationID, direction)
}

// MarkRead marks everything the participant has not sent as read.
func (h *Hub) MarkRead(ctx context.Context, participant models.Participant, conversationID string) ([]int64, error) {
	if err := authorize(participant, conversationID); err != nil {
		return nil, err
	}
	return h.receipts.MarkRead(ctx, conversationID, participant.ID)
}

// SetResponderEnabled switches the automated responder. Only staff can do it.
func (h *Hub) SetResponderEnabled(ctx context.Context, participant models.Participant, conversationID string, enabled bool) (models.Conversation, error) {
	if err := authorize(participant, conversationID); err != nil {
		return models.Conversation{}, err
	}
	if participant.Role != models.RoleStaff {
		return models.Conversation{}, fmt.Errorf("%w: only staff can configure the responder", models.ErrForbidden)
	}

	conv, err := h.loadAndUpdate(ctx, conversationID, func(c *models.Conversation) {
		c.ResponderEnabled = enabled
	})
	if err != nil {
		return models.Conversation{}, err
	}
	h.logger.Info("responder toggled",
		zap.String("conversation_id", conversationID),
		zap.String("staff_id", participant.ID),
		zap.Bool("enabled", enabled),
	)
	return h.withLastSeq(ctx, conv)
}

// Conversation returns the conversation settings with its current last seq.
func (h *Hub) Conversation(ctx context.Context, participant models.Participant, conversationID string) (models.Conversation, error) {
	if err := authorize(participant, conversationID); err != nil {
		return models.Conversation{}, err
	}
	return h.withLastSeq(ctx, h.conversation(ctx, conversationID))
}

func (h *Hub) withLastSeq(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	err := h.log.Sync(ctx, conv.ID, func(lastSeq int64) {
		conv.LastSeq = lastSeq
	})
	return conv, err
}

// Close stops the hub: pending responder replies are finished, every subscription
// is closed and typing timers are stopped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.wg.Wait()
	h.cancel()
	h.typing.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subscribers {
		for _, sub := range subs {
			h.remove(sub, nil)
		}
	}
}
