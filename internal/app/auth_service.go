// Package app holds the application services and business logic.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatservice/internal/domain"
	"chatservice/internal/ratelimit"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates that the provided username or password was incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited indicates that a rate limiter rejected the request.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnauthenticated indicates a missing, invalid or expired access token.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUserNotFound indicates that the user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Limiter admits or rejects one request for a subject.
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// TokenIssuer signs and verifies access tokens carrying a user id.
type TokenIssuer interface {
	Issue(userID int64) (token string, expiresIn int, err error)
	Verify(token string) (userID int64, err error)
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   int
}

// AuthService handles registration, login and token authentication.
type AuthService struct {
	users  domain.UserRepository
	tokens TokenIssuer
	login  Limiter
	log    *slog.Logger

	cost int
	now  func() time.Time
}

// NewAuthService creates a new authentication service. loginLimiter is
// keyed by caller IP.
func NewAuthService(users domain.UserRepository, tokens TokenIssuer, loginLimiter Limiter, log *slog.Logger) *AuthService {
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{
		users:  users,
		tokens: tokens,
		login:  loginLimiter,
		log:    log.With("component", "auth"),
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

// Register creates an account. The username is checked before the email,
// so a request colliding on both reports domain.ErrUsernameTaken.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrUsernameTaken
	}
	existing, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrEmailTaken
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	// The repository enforces uniqueness too, covering concurrent registrations.
	u, err := s.users.Create(ctx, username, email, hash)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login applies the login limiter to ip, then checks credentials and
// issues an access token. Rejected attempts still count against ip.
func (s *AuthService) Login(ctx context.Context, ip, username, password string) (*Token, error) {
	d, err := s.login.Allow(ctx, ip)
	if err != nil {
		return nil, err
	}
	if d == ratelimit.Rejected {
		s.log.WarnContext(ctx, "login rate limited", "ip", ip)
		return nil, ErrRateLimited
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !s.checkPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user.ID)
}

// LoginWithIdentity issues a token for a user authenticated by an external
// identity provider, provisioning an account on first sight. The account
// is matched by email; new accounts get no usable password.
func (s *AuthService) LoginWithIdentity(ctx context.Context, email, subject string) (*Token, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: identity has no email", ErrUnauthenticated)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = s.provision(ctx, email, subject)
		if err != nil {
			return nil, err
		}
	}
	return s.issue(user.ID)
}

func (s *AuthService) provision(ctx context.Context, email, subject string) (*domain.User, error) {
	username := ssoUsername(email, subject)
	user, err := s.users.Create(ctx, username, email, "")
	switch {
	case err == nil:
		s.log.InfoContext(ctx, "user provisioned from identity provider", "user_id", user.ID)
		return user, nil
	case errors.Is(err, domain.ErrEmailTaken):
		// Lost a race with a concurrent first login.
		if user, err = s.users.GetByEmail(ctx, email); err == nil && user != nil {
			return user, nil
		}
		return nil, fmt.Errorf("provision %s: %w", email, domain.ErrEmailTaken)
	default:
		return nil, err
	}
}

// Authenticate resolves an access token to its user and records activity.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	now := s.now().UTC()
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastActive = now
	return user, nil
}

func (s *AuthService) issue(userID int64) (*Token, error) {
	tok, expiresIn, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: tok, ExpiresIn: expiresIn}, nil
}

// Passwords are pre-hashed with SHA-256 so that inputs longer than
// bcrypt's 72-byte limit are not truncated.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

const maxUsernameLen = 50

// ssoUsername derives a username from the email's local part, suffixed
// with the provider subject so it cannot collide with a chosen name.
func ssoUsername(email, subject string) string {
	local, _, _ := strings.Cut(email, "@")
	name := []rune(local + "-" + subject)
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	return string(name)
}
