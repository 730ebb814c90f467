package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations     = []byte("conversations")
	bucketMessages          = []byte("messages")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketPushSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// GetConversation returns the conversation record or models.ErrNotFound.
func (s *BboltStorage) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = dbConv.toModel()
		return nil
	})
	return conv, err
}

// UpsertConversation saves conversation attributes. LastSeq is owned by AppendMessage
// and is never moved backwards here.
func (s *BboltStorage) UpsertConversation(ctx context.Context, conv models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		dbConv := DBConversation{
			ID:               conv.ID,
			ResponderEnabled: conv.ResponderEnabled,
			StaffID:          conv.StaffID,
			LastSeq:          conv.LastSeq,
		}
		if data := b.Get(dbConv.Key()); data != nil {
			var existing DBConversation
			if err := existing.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			dbConv.LastSeq = max(dbConv.LastSeq, existing.LastSeq)
		}
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbConv.Key(), data)
	})
}

// AppendMessage durably saves a message and advances the conversation LastSeq.
// The conversation record is created on the first message.
func (s *BboltStorage) AppendMessage(ctx context.Context, message models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ConversationID == "" {
			return errors.New("message missing conversationID")
		}

		// 1. Save message
		convMessages, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := newDBMessage(message)
		if convMessages.Get(dbMessage.Key()) != nil {
			return fmt.Errorf("message %d already exists in conversation %s", message.Seq, message.ConversationID)
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convMessages.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		// 2. Update conversation LastSeq
		conversations := tx.Bucket(bucketConversations)
		dbConv := DBConversation{ID: message.ConversationID}
		if convData := conversations.Get(dbConv.Key()); convData != nil {
			if err := dbConv.UnmarshalBinary(convData); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
		}
		if message.Seq <= dbConv.LastSeq {
			return nil
		}
		dbConv.LastSeq = message.Seq
		newData, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return conversations.Put(dbConv.Key(), newData)
	})
}

// ListMessages returns up to limit messages with seq greater than afterSeq in seq order.
// A non-positive limit means no limit.
func (s *BboltStorage) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convMessages := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMessages == nil {
			return nil // No messages for this conversation
		}

		c := convMessages.Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(messages) >= limit {
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// LastMessages returns the newest n messages of a conversation in seq order.
func (s *BboltStorage) LastMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convMessages := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMessages == nil {
			return nil
		}

		c := convMessages.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < n; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead sets the read flag on the given messages. Already read messages are left untouched.
func (s *BboltStorage) MarkRead(ctx context.Context, conversationID string, seqs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		convMessages := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMessages == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}

		for _, seq := range seqs {
			key := seqKey(seq)
			data := convMessages.Get(key)
			if data == nil {
				return fmt.Errorf("message %d: %w", seq, models.ErrNotFound)
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(data); err != nil {
				return err
			}
			if dbMsg.Read {
				continue
			}
			dbMsg.Read = true
			newData, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := convMessages.Put(key, newData); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStorage) SavePushSubscription(ctx context.Context, sub models.PushSubscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPushSubscriptions).CreateBucketIfNotExists([]byte(sub.ParticipantID))
		if err != nil {
			return err
		}
		dbSub := &DBPushSubscription{
			ParticipantID: sub.ParticipantID,
			Endpoint:      sub.Endpoint,
			Auth:          sub.Auth,
			P256dh:        sub.P256dh,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(ctx context.Context, participantID string) ([]models.PushSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(participantID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				ParticipantID: dbSub.ParticipantID,
				Endpoint:      dbSub.Endpoint,
				Auth:          dbSub.Auth,
				P256dh:        dbSub.P256dh,
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(ctx context.Context, participantID, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(participantID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
