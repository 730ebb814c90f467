package storage

import (
	"context"
	"fmt"

	"mealchat/internal/models"
)

const (
	KindBbolt    = "bbolt"
	KindPostgres = "postgres"
)

// Storage is everything the service keeps durably.
type Storage interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	UpsertConversation(ctx context.Context, conv models.Conversation) error
	AppendMessage(ctx context.Context, message models.Message) error
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error)
	LastMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string, seqs []int64) error
	SavePushSubscription(ctx context.Context, sub models.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, participantID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, participantID, endpoint string) error
	Close() error
}

// Open returns the backend of the given kind. path is the bbolt file, dsn the Postgres
// connection string.
func Open(ctx context.Context, kind, path, dsn string) (Storage, error) {
	switch kind {
	case KindBbolt, "":
		return NewBboltStorage(path)
	case KindPostgres:
		return NewPostgresStorage(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage %q", kind)
	}
}
