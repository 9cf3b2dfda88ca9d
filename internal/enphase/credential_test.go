package enphase_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"envoy-logger/internal/enphase"
	"envoy-logger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	t         *testing.T
	expiries  []time.Time
	logins    int
	exchanges int
	loginErr  error
}

func (f *fakeIdentity) Login(_ context.Context, email, password string) (string, error) {
	f.logins++
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return fmt.Sprintf("session-%d", f.logins), nil
}

func (f *fakeIdentity) ExchangeToken(_ context.Context, sessionID, serial, email string) (string, error) {
	exp := f.expiries[f.exchanges]
	f.exchanges++
	return makeToken(f.t, exp), nil
}

type memCache struct {
	tokens map[string]string
	saves  int
}

func (c *memCache) Load(serial string) (string, error) {
	return c.tokens[serial], nil
}

func (c *memCache) Save(serial, token string) error {
	c.saves++
	c.tokens[serial] = token
	return nil
}

func newManager(identity enphase.Identity, cache enphase.TokenCache, now time.Time) *enphase.CredentialManager {
	cfg := enphase.CredentialConfig{
		Email:    "user@example.com",
		Password: "hunter2",
		Serial:   "122233344455",
		Identity: identity,
		Now:      func() time.Time { return now },
	}
	if cache != nil {
		cfg.Cache = cache
	}
	return enphase.NewCredentialManager(cfg)
}

func TestTokenFetchedOnFirstUse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	identity := &fakeIdentity{t: t, expiries: []time.Time{now.Add(365 * 24 * time.Hour)}}
	m := newManager(identity, nil, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	exp, err := enphase.DecodeExpiry(tok)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exp.Sub(now), enphase.MinValidity)
	assert.Equal(t, 1, identity.logins)
	assert.Equal(t, 1, identity.exchanges)

	// held token is reused
	again, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, 1, identity.exchanges)
}

func TestTokenNearExpiryRefreshedOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := &memCache{tokens: map[string]string{"122233344455": makeToken(t, now.Add(6*time.Hour))}}
	identity := &fakeIdentity{t: t, expiries: []time.Time{now.Add(30 * 24 * time.Hour)}}
	m := newManager(identity, cache, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, identity.exchanges)
	exp, err := enphase.DecodeExpiry(tok)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, exp.Sub(now), enphase.MinValidity)
	assert.Equal(t, tok, cache.tokens["122233344455"])
	assert.Equal(t, 1, cache.saves)
}

func TestTokenFromCache(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cached := makeToken(t, now.Add(90*24*time.Hour))
	cache := &memCache{tokens: map[string]string{"122233344455": cached}}
	identity := &fakeIdentity{t: t}
	m := newManager(identity, cache, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cached, tok)
	assert.Zero(t, identity.logins)
	assert.Equal(t, now.Add(90*24*time.Hour).Unix(), m.Expiry().Unix())
}

func TestTokenUndecodableCacheIgnored(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := &memCache{tokens: map[string]string{"122233344455": "garbage"}}
	identity := &fakeIdentity{t: t, expiries: []time.Time{now.Add(365 * 24 * time.Hour)}}
	m := newManager(identity, cache, now)

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, identity.exchanges)
	assert.NotEqual(t, "garbage", cache.tokens["122233344455"])
}

func TestTokenIssuedTooShort(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	identity := &fakeIdentity{t: t, expiries: []time.Time{now.Add(time.Hour)}}
	m := newManager(identity, nil, now)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrAuthentication, errors.CodeOf(err))
	assert.Equal(t, 1, identity.exchanges)
}

func TestTokenLoginRejected(t *testing.T) {
	identity := &fakeIdentity{t: t, loginErr: errors.New(errors.ErrAuthentication)}
	m := newManager(identity, nil, time.Now())

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAuthentication))
	assert.Zero(t, identity.exchanges)
}
