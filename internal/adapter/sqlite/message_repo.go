package sqlite

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

const pairFilter = "((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))"

// Create stores a message.
func (r *MessageRepo) Create(ctx context.Context, senderID, recipientID int64, content string) (*domain.Message, error) {
	now := r.db.now().UTC()
	res, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO messages (sender_id, recipient_id, content, created_at) VALUES (?, ?, ?, ?)",
		senderID, recipientID, content, formatTime(now),
	)
	if err != nil {
		return nil, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created, err := parseTime(formatTime(now))
	if err != nil {
		return nil, err
	}
	return &domain.Message{ID: id, SenderID: senderID, RecipientID: recipientID, Content: content, CreatedAt: created}, nil
}

// History lists messages between two users, newest first.
func (r *MessageRepo) History(ctx context.Context, userID, peerID int64, limit, offset int) ([]domain.Message, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		"SELECT id, sender_id, recipient_id, content, created_at FROM messages WHERE "+pairFilter+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, peerID, peerID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			m       domain.Message
			created string
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountHistory counts messages between two users.
func (r *MessageRepo) CountHistory(ctx context.Context, userID, peerID int64) (int64, error) {
	var n int64
	err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+pairFilter, userID, peerID, peerID, userID).Scan(&n)
	return n, err
}
