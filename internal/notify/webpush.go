package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mealchat/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

const pushTTL = 60 * 60 // seconds

// SubscriptionStore is where participants' push endpoints live.
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, participantID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, participantID, endpoint string) error
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // mailto: or https: contact of the sender
}

// WebPush sends notifications to every push subscription of the recipient.
type WebPush struct {
	store      SubscriptionStore
	vapid      VAPIDConfig
	httpClient webpush.HTTPClient
	logger     *zap.Logger
}

func NewWebPush(store SubscriptionStore, vapid VAPIDConfig, logger *zap.Logger) *WebPush {
	return &WebPush{
		store:      store,
		vapid:      vapid,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

type pushPayload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
}

// Notify succeeds when at least one endpoint accepted the notification, or the
// recipient has no endpoints at all.
func (w *WebPush) Notify(ctx context.Context, n Notification) error {
	subs, err := w.store.ListPushSubscriptions(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		w.logger.Debug("no push subscriptions", zap.String("recipient_id", n.RecipientID))
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		Title:          n.SenderName,
		Body:           n.Preview,
		ConversationID: n.ConversationID,
	})
	if err != nil {
		return err
	}

	var errs []error
	delivered := false
	for _, sub := range subs {
		if err := w.send(ctx, payload, sub); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}

func (w *WebPush) send(ctx context.Context, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.httpClient,
		Subscriber:      w.vapid.Subscriber,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             pushTTL,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The browser dropped the subscription
		if err := w.store.DeletePushSubscription(ctx, sub.ParticipantID, sub.Endpoint); err != nil {
			w.logger.Warn("failed to prune push subscription",
				zap.String("participant_id", sub.ParticipantID),
				zap.Error(err),
			)
		}
		return fmt.Errorf("push to %s: subscription expired", sub.Endpoint)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push to %s: unexpected status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
