package notify

import (
	"context"
	"sync"
	"time"

	"mealchat/internal/content"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
)

// Notification is what a recipient who is not connected gets told about a new message.
type Notification struct {
	RecipientID    string `json:"recipientId"`
	ConversationID string `json:"conversationId"`
	SenderName     string `json:"senderName"`
	Preview        string `json:"preview"`
}

// Notifier delivers a notification out of band.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// Dispatcher sends notifications in the background. Every dispatch is attempted at
// most once, failures are logged and never retried.
type Dispatcher struct {
	notifier Notifier
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, config Config, logger *zap.Logger) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifier: notifier,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		timeout:  config.Timeout,
		logger:   logger,
	}
}

// Dispatch builds the preview of body and notifies the recipient asynchronously.
// It returns false when the dispatcher is saturated and the notification was dropped.
func (d *Dispatcher) Dispatch(conversationID, recipientID, senderName, body string) bool {
	n := Notification{
		RecipientID:    recipientID,
		ConversationID: conversationID,
		SenderName:     senderName,
		Preview:        content.Preview(body, content.PreviewLength),
	}

	if !d.sem.TryAcquire(1) {
		d.logger.Warn("notification dropped, dispatcher saturated",
			zap.String("recipient_id", recipientID),
			zap.String("conversation_id", conversationID),
		)
		return false
	}

	d.wg.Go(func() {
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Error("notification failed",
				zap.String("recipient_id", recipientID),
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("notification sent",
			zap.String("recipient_id", recipientID),
			zap.String("conversation_id", conversationID),
		)
	})
	return true
}

// Wait blocks until all dispatched notifications finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogNotifier only logs notifications. It is used when no push credentials are configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("conversation_id", n.ConversationID),
		zap.String("sender", n.SenderName),
		zap.String("preview", n.Preview),
	)
	return nil
}
