package envoy_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"envoy-logger/internal/envoy"
	"envoy-logger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandshake struct {
	calls int
	err   error
}

func (h *countingHandshake) CheckJWT(_ context.Context, token string) (string, error) {
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return fmt.Sprintf("%s-%d", token, h.calls), nil
}

func TestSessionCachedUntilInvalidated(t *testing.T) {
	hs := &countingHandshake{}
	sm := envoy.NewSessionManager(&staticTokens{}, hs, 0, nil)

	first, err := sm.SessionID(context.Background())
	require.NoError(t, err)
	second, err := sm.SessionID(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, hs.calls)

	sm.Invalidate()
	third, err := sm.SessionID(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, hs.calls)
}

func TestSessionMaxAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	hs := &countingHandshake{}
	sm := envoy.NewSessionManager(&staticTokens{}, hs, 12*time.Hour, func() time.Time { return now })

	_, err := sm.SessionID(context.Background())
	require.NoError(t, err)

	now = now.Add(11 * time.Hour)
	_, err = sm.SessionID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hs.calls)

	now = now.Add(time.Hour)
	_, err = sm.SessionID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, hs.calls)
}

func TestSessionHandshakeRejected(t *testing.T) {
	hs := &countingHandshake{err: errors.New(errors.ErrAuthentication)}
	sm := envoy.NewSessionManager(&staticTokens{}, hs, 0, nil)

	_, err := sm.SessionID(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrAuthentication, errors.CodeOf(err))

	// nothing cached after a failure
	_, err = sm.SessionID(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, hs.calls)
}
