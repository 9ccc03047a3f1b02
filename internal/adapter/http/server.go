// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"chatservice/internal/app"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig enables the /sso endpoints.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config *oauth2.Config
}

// NewOIDC discovers the provider at issuer and builds its client config.
func NewOIDC(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDCConfig, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuer, err)
	}
	return &OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email"},
		},
	}, nil
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	authSvc    *app.AuthService
	messages   *app.MessageService
	oidcConfig OIDCConfig
	log        *slog.Logger
}

// New creates a Server wired to the given application services.
func New(as *app.AuthService, ms *app.MessageService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{authSvc: as, messages: ms, log: log.With("component", "http")}
}

// WithOIDC enables single sign-on.
func (s *Server) WithOIDC(cfg OIDCConfig) *Server {
	s.oidcConfig = cfg
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/sso/login", s.handleSSOLogin)
	mux.HandleFunc("/sso/callback", s.handleSSOCallback)

	mux.Handle("/send", s.authMiddleware(http.HandlerFunc(s.handleSend)))
	mux.Handle("/messages", s.authMiddleware(http.HandlerFunc(s.handleMessages)))

	return s.requestIDMiddleware(s.loggingMiddleware(withCORS(mux)))
}
