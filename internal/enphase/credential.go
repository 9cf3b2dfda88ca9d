package enphase

import (
	"context"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"

	"github.com/rs/zerolog"
)

// MinValidity is the remaining lifetime below which a token is replaced.
const MinValidity = 24 * time.Hour

// Identity is the Enphase login and token exchange protocol.
type Identity interface {
	Login(ctx context.Context, email, password string) (string, error)
	ExchangeToken(ctx context.Context, sessionID, serial, email string) (string, error)
}

// TokenCache persists tokens between runs. Load returns "" on a miss.
type TokenCache interface {
	Load(serial string) (string, error)
	Save(serial, token string) error
}

// CredentialManager hands out a gateway token with at least MinValidity
// left, fetching a new one from the identity service when needed.
type CredentialManager struct {
	identity Identity
	cache    TokenCache
	email    string
	password string
	serial   string
	now      func() time.Time
	log      zerolog.Logger

	token  string
	expiry time.Time
}

type CredentialConfig struct {
	Email    string
	Password string
	Serial   string
	Identity Identity
	// Cache is optional.
	Cache TokenCache
	Now   func() time.Time
}

func NewCredentialManager(cfg CredentialConfig) *CredentialManager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &CredentialManager{
		identity: cfg.Identity,
		cache:    cfg.Cache,
		email:    cfg.Email,
		password: cfg.Password,
		serial:   cfg.Serial,
		now:      now,
		log:      logger.With("enphase"),
	}
}

// Token returns a token valid for at least MinValidity.
func (m *CredentialManager) Token(ctx context.Context) (string, error) {
	if m.token == "" {
		m.loadCached()
	}

	if m.token == "" {
		if err := m.refresh(ctx); err != nil {
			return "", err
		}
	} else if m.remaining() < MinValidity {
		m.log.Info().Time("expires", m.expiry).Msg("token will expire soon, fetching a new one")
		if err := m.refresh(ctx); err != nil {
			return "", err
		}
	}

	if m.remaining() < MinValidity {
		return "", errors.Newf(errors.ErrAuthentication, "identity service issued a token expiring at %s", m.expiry.Format(time.RFC3339))
	}

	return m.token, nil
}

// Expiry returns the expiry of the held token, or the zero time.
func (m *CredentialManager) Expiry() time.Time {
	return m.expiry
}

func (m *CredentialManager) remaining() time.Duration {
	return m.expiry.Sub(m.now())
}

func (m *CredentialManager) loadCached() {
	if m.cache == nil {
		return
	}

	token, err := m.cache.Load(m.serial)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read cached token")
		return
	}
	if token == "" {
		return
	}

	expiry, err := DecodeExpiry(token)
	if err != nil {
		m.log.Warn().Err(err).Msg("discarding undecodable cached token")
		return
	}

	m.log.Info().Time("expires", expiry).Msg("using cached token")
	m.token = token
	m.expiry = expiry
}

func (m *CredentialManager) refresh(ctx context.Context) error {
	m.log.Info().Str("email", m.email).Msg("logging into enphaseenergy.com")
	sessionID, err := m.identity.Login(ctx, m.email, m.password)
	if err != nil {
		return err
	}

	m.log.Info().Str("serial", m.serial).Msg("downloading new access token")
	token, err := m.identity.ExchangeToken(ctx, sessionID, m.serial, m.email)
	if err != nil {
		return err
	}

	expiry, err := DecodeExpiry(token)
	if err != nil {
		return err
	}

	m.token = token
	m.expiry = expiry

	if m.cache != nil {
		if err := m.cache.Save(m.serial, token); err != nil {
			m.log.Warn().Err(err).Msg("failed to cache token")
		}
	}

	return nil
}
