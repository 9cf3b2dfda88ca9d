package envoy

import (
	"context"
	"time"

	"envoy-logger/internal/logger"

	"github.com/rs/zerolog"
)

// TokenProvider supplies the cloud-issued gateway token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Handshaker trades a gateway token for a local session id.
type Handshaker interface {
	CheckJWT(ctx context.Context, token string) (string, error)
}

// SessionManager caches the gateway session id. A session is replaced after
// Invalidate, or once it is older than maxAge when maxAge is positive.
type SessionManager struct {
	tokens    TokenProvider
	handshake Handshaker
	maxAge    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	sessionID string
	createdAt time.Time
}

func NewSessionManager(tokens TokenProvider, handshake Handshaker, maxAge time.Duration, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		tokens:    tokens,
		handshake: handshake,
		maxAge:    maxAge,
		now:       now,
		log:       logger.With("session"),
	}
}

// SessionID returns the cached session id, establishing a new session first
// if there is none.
func (s *SessionManager) SessionID(ctx context.Context) (string, error) {
	if s.sessionID != "" && !s.expired() {
		return s.sessionID, nil
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	id, err := s.handshake.CheckJWT(ctx, token)
	if err != nil {
		return "", err
	}

	s.sessionID = id
	s.createdAt = s.now()
	s.log.Info().Msg("logged into envoy")
	return id, nil
}

// Invalidate drops the cached session so the next SessionID call performs a
// new handshake.
func (s *SessionManager) Invalidate() {
	s.sessionID = ""
}

func (s *SessionManager) expired() bool {
	return s.maxAge > 0 && s.now().Sub(s.createdAt) >= s.maxAge
}
