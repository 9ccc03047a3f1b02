package domain

import (
	"context"
	"time"
)

// Message is a direct message between two users. It doubles as the
// snapshot stored in the conversation cache, so its JSON form is part of
// the cache payload format.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageRepository is the port for the authoritative message store.
type MessageRepository interface {
	Create(ctx context.Context, senderID, recipientID int64, content string) (*Message, error)
	// History returns messages exchanged between userID and peerID in either
	// direction, newest first.
	History(ctx context.Context, userID, peerID int64, limit, offset int) ([]Message, error)
	CountHistory(ctx context.Context, userID, peerID int64) (int64, error)
}
