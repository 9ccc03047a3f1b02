package postgres

import (
	"context"

	"chatservice/internal/domain"
)

var _ domain.MessageRepository = (*MessageRepo)(nil)

// MessageRepo implements message persistence on DB.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo wraps a DB as a MessageRepository.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const pairFilter = "((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))"

// Create stores a message.
func (r *MessageRepo) Create(ctx context.Context, senderID, recipientID int64, content string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.sql.QueryRowContext(ctx,
		"INSERT INTO messages (sender_id, recipient_id, content, created_at) VALUES ($1, $2, $3, now()) RETURNING id, sender_id, recipient_id, content, created_at",
		senderID, recipientID, content,
	).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// History lists messages between two users, newest first.
func (r *MessageRepo) History(ctx context.Context, userID, peerID int64, limit, offset int) ([]domain.Message, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		"SELECT id, sender_id, recipient_id, content, created_at FROM messages WHERE "+pairFilter+
			" ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
		userID, peerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountHistory counts messages between two users.
func (r *MessageRepo) CountHistory(ctx context.Context, userID, peerID int64) (int64, error) {
	var n int64
	err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+pairFilter, userID, peerID).Scan(&n)
	return n, err
}
