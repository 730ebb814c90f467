package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealchat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		responder_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		staff_id TEXT NOT NULL DEFAULT '',
		last_seq BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq BIGINT NOT NULL,
		ts BIGINT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL CHECK (sender_role IN ('subject', 'staff', 'responder')),
		body TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (conversation_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS push_subscriptions (
		participant_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		auth TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		PRIMARY KEY (participant_id, endpoint)
	)`,
}

// PostgresStorage keeps the conversation log in Postgres. The (conversation_id, seq)
// primary key is the ordered index ListMessages reads from.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	poolCfg.MaxConnIdleTime = 30 * time.Second
	poolCfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	for _, query := range migrations {
		if _, err := pool.Exec(ctx, query); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	const query = `SELECT id, responder_enabled, staff_id, last_seq FROM conversations WHERE id = $1`
	var conv models.Conversation
	err := s.pool.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.ResponderEnabled, &conv.StaffID, &conv.LastSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, models.ErrNotFound
	}
	return conv, err
}

func (s *PostgresStorage) UpsertConversation(ctx context.Context, conv models.Conversation) error {
	const query = `
		INSERT INTO conversations (id, responder_enabled, staff_id, last_seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			responder_enabled = EXCLUDED.responder_enabled,
			staff_id = EXCLUDED.staff_id,
			last_seq = GREATEST(conversations.last_seq, EXCLUDED.last_seq)`
	_, err := s.pool.Exec(ctx, query, conv.ID, conv.ResponderEnabled, conv.StaffID, conv.LastSeq)
	return err
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, message models.Message) error {
	if message.ConversationID == "" {
		return errors.New("message missing conversationID")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsertConv = `
			INSERT INTO conversations (id, last_seq) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET last_seq = GREATEST(conversations.last_seq, EXCLUDED.last_seq)`
		if _, err := tx.Exec(ctx, upsertConv, message.ConversationID, message.Seq); err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}

		const insertMsg = `
			INSERT INTO messages (conversation_id, seq, ts, sender_id, sender_role, body, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.Exec(ctx, insertMsg,
			message.ConversationID,
			message.Seq,
			message.Timestamp,
			message.SenderID,
			string(message.SenderRole),
			message.Body,
			message.Read,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	query := `
		SELECT conversation_id, seq, ts, sender_id, sender_role, body, read
		FROM messages WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC`
	args := []any{conversationID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (s *PostgresStorage) LastMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	const query = `
		SELECT conversation_id, seq, ts, sender_id, sender_role, body, read FROM (
			SELECT * FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, query, conversationID, n)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (s *PostgresStorage) MarkRead(ctx context.Context, conversationID string, seqs []int64) error {
	const query = `UPDATE messages SET read = TRUE WHERE conversation_id = $1 AND seq = ANY($2) AND NOT read`
	_, err := s.pool.Exec(ctx, query, conversationID, seqs)
	return err
}

func (s *PostgresStorage) SavePushSubscription(ctx context.Context, sub models.PushSubscription) error {
	const query = `
		INSERT INTO push_subscriptions (participant_id, endpoint, auth, p256dh) VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_id, endpoint) DO UPDATE SET auth = EXCLUDED.auth, p256dh = EXCLUDED.p256dh`
	_, err := s.pool.Exec(ctx, query, sub.ParticipantID, sub.Endpoint, sub.Auth, sub.P256dh)
	return err
}

func (s *PostgresStorage) ListPushSubscriptions(ctx context.Context, participantID string) ([]models.PushSubscription, error) {
	const query = `SELECT participant_id, endpoint, auth, p256dh FROM push_subscriptions WHERE participant_id = $1`
	rows, err := s.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ParticipantID, &sub.Endpoint, &sub.Auth, &sub.P256dh); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStorage) DeletePushSubscription(ctx context.Context, participantID, endpoint string) error {
	const query = `DELETE FROM push_subscriptions WHERE participant_id = $1 AND endpoint = $2`
	_, err := s.pool.Exec(ctx, query, participantID, endpoint)
	return err
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(
			&msg.ConversationID,
			&msg.Seq,
			&msg.Timestamp,
			&msg.SenderID,
			&role,
			&msg.Body,
			&msg.Read,
		); err != nil {
			return nil, err
		}
		msg.SenderRole = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
