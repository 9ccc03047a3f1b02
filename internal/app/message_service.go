package app

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"chatservice/internal/domain"
	"chatservice/internal/ratelimit"
)

// ErrRecipientNotFound indicates a send addressed to an unknown user.
var ErrRecipientNotFound = errors.New("recipient not found")

// ConversationCache holds the newest messages of each conversation.
type ConversationCache interface {
	Read(ctx context.Context, a, b int64, limit, offset int) ([]domain.Message, bool, error)
	Push(ctx context.Context, a, b int64, msg domain.Message) error
	Replace(ctx context.Context, a, b int64, msgs []domain.Message) error
}

// Page is one window of a conversation, newest first. Total is nil when
// the page was served from the cache.
type Page struct {
	Messages []domain.Message
	Limit    int
	Offset   int
	Total    *int64
}

// MessageService sends messages and serves conversation history.
type MessageService struct {
	messages domain.MessageRepository
	users    domain.UserRepository
	cache    ConversationCache
	send     Limiter
	log      *slog.Logger
}

// NewMessageService creates a new message service. sendLimiter is keyed
// by sender id.
func NewMessageService(messages domain.MessageRepository, users domain.UserRepository, cache ConversationCache, sendLimiter Limiter, log *slog.Logger) *MessageService {
	if log == nil {
		log = slog.Default()
	}
	return &MessageService{
		messages: messages,
		users:    users,
		cache:    cache,
		send:     sendLimiter,
		log:      log.With("component", "messages"),
	}
}

// Send applies the sender's rate limit, persists the message and pushes it
// onto the conversation cache.
func (s *MessageService) Send(ctx context.Context, senderID, recipientID int64, content string) (*domain.Message, error) {
	d, err := s.send.Allow(ctx, strconv.FormatInt(senderID, 10))
	if err != nil {
		return nil, err
	}
	if d == ratelimit.Rejected {
		s.log.WarnContext(ctx, "send rate limited", "user_id", senderID)
		return nil, ErrRateLimited
	}

	recipient, err := s.users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, ErrRecipientNotFound
	}

	msg, err := s.messages.Create(ctx, senderID, recipientID, content)
	if errors.Is(err, domain.ErrNotFound) {
		// Rejected by the store's foreign key.
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.cache.Push(ctx, senderID, recipientID, *msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns a window of the conversation between userID and peerID.
// Only the first page is served from the cache; a first-page miss is
// answered from the store and repopulates the cache.
func (s *MessageService) History(ctx context.Context, userID, peerID int64, limit, offset int) (*Page, error) {
	page := &Page{Limit: limit, Offset: offset}

	if offset == 0 {
		cached, ok, err := s.cache.Read(ctx, userID, peerID, limit, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			page.Messages = cached
			return page, nil
		}
	}

	msgs, err := s.messages.History(ctx, userID, peerID, limit, offset)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	if offset == 0 {
		if err := s.cache.Replace(ctx, userID, peerID, msgs); err != nil {
			return nil, err
		}
	}

	total, err := s.messages.CountHistory(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	page.Messages = msgs
	page.Total = &total
	return page, nil
}
