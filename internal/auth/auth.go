// Package auth provides the in-memory token service backing the login
// and profile endpoints. Single-process MVP: users are seeded at start
// and tokens live until restart.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/config"
)

// Profile is the user shape returned by /api/auth/me.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Credits int    `json:"credits"`
	Plan    string `json:"plan"`
}

// TokenResponse is the login payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type userRecord struct {
	password string
	profile  Profile
}

type tokenRecord struct {
	profile  Profile
	issuedAt time.Time
}

// Service validates credentials and resolves tokens to profiles.
type Service struct {
	ttl time.Duration

	mu     sync.Mutex
	users  map[string]userRecord
	tokens map[string]tokenRecord
}

// NewService creates the auth service with the demo users seeded.
func NewService(cfg config.AuthConfig) *Service {
	ttl := time.Duration(cfg.TokenDuration) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Service{
		ttl:    ttl,
		users:  make(map[string]userRecord),
		tokens: make(map[string]tokenRecord),
	}
	s.AddUser("demo@devcrew.local", "devcrew-demo",
		Profile{ID: "user-1", Email: "demo@devcrew.local", Name: "Demo User", Credits: 1204, Plan: "Pro"})
	s.AddUser("linda@devcrew.local", "devcrew-linda",
		Profile{ID: "user-2", Email: "linda@devcrew.local", Name: "Linda Chen", Credits: 680, Plan: "Basic"})
	return s
}

// AddUser registers or replaces a user.
func (s *Service) AddUser(email, password string, profile Profile) {
	s.mu.Lock()
	s.users[email] = userRecord{password: password, profile: profile}
	s.mu.Unlock()
}

// Login checks credentials and issues a token. Tokens are deterministic
// per user so a re-login invalidates nothing.
func (s *Service) Login(email, password string) (*TokenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.users[email]
	if !ok || record.password != password {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}

	token := "token-" + record.profile.ID
	s.tokens[token] = tokenRecord{profile: record.profile, issuedAt: time.Now().UTC()}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.ttl / time.Second),
	}, nil
}

// ProfileForToken resolves a raw token to its profile.
func (s *Service) ProfileForToken(token string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[token]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}
	if s.ttl > 0 && time.Since(record.issuedAt) > s.ttl {
		delete(s.tokens, token)
		return nil, apperr.New(apperr.KindUnauthorized, "token expired")
	}
	profile := record.profile
	return &profile, nil
}

// FromAuthorization resolves a "Bearer <token>" header value.
func (s *Service) FromAuthorization(header string) (*Profile, error) {
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, apperr.New(apperr.KindUnauthorized, "missing or invalid token")
	}
	return s.ProfileForToken(strings.TrimSpace(header[len("bearer "):]))
}
