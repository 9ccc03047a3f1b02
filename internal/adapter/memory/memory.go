// Package memory implements in-memory repositories and a key-value store
// for development and testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatservice/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	users    []*domain.User
	messages []domain.Message

	userIDCounter    int64
	messageIDCounter int64

	now func() time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{now: time.Now}
}

// Ensure interfaces are met.
var _ domain.UserRepository = (*DB)(nil)
var _ domain.MessageRepository = (*MessageRepo)(nil)

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (db *DB) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// Create creates a new user. Uniqueness is enforced the way the SQL
// adapters' constraints do.
func (db *DB) Create(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, domain.ErrUsernameTaken
		}
		if strings.EqualFold(u.Email, email) {
			return nil, domain.ErrEmailTaken
		}
	}

	db.userIDCounter++
	now := db.now().UTC()
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		LastActive:   now,
		CreatedAt:    now,
	}
	db.users = append(db.users, u)
	cp := *u
	return &cp, nil
}

// TouchLastActive records activity for a user.
func (db *DB) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			u.LastActive = at.UTC()
			return nil
		}
	}
	return nil
}

// --- MessageRepository ---

// MessageRepo implements message persistence.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new message repository.
func (db *DB) NewMessageRepo() *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message.
func (r *MessageRepo) Create(ctx context.Context, senderID, recipientID int64, content string) (*domain.Message, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	db.messageIDCounter++
	m := domain.Message{
		ID:          db.messageIDCounter,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   db.now().UTC(),
	}
	db.messages = append(db.messages, m)
	return &m, nil
}

// History lists messages between two users, newest first.
func (r *MessageRepo) History(ctx context.Context, userID, peerID int64, limit, offset int) ([]domain.Message, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	result := db.conversationLocked(userID, peerID)
	if offset >= len(result) {
		return []domain.Message{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountHistory counts messages between two users.
func (r *MessageRepo) CountHistory(ctx context.Context, userID, peerID int64) (int64, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return int64(len(db.conversationLocked(userID, peerID))), nil
}

func (db *DB) conversationLocked(userID, peerID int64) []domain.Message {
	var result []domain.Message
	for _, m := range db.messages {
		if (m.SenderID == userID && m.RecipientID == peerID) || (m.SenderID == peerID && m.RecipientID == userID) {
			result = append(result, m)
		}
	}
	// Insertion order breaks ties between equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}
