package envoy_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"envoy-logger/internal/envoy"
	"envoy-logger/internal/errors"
	"envoy-logger/internal/sample"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	calls int
	err   error
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "gateway-token", nil
}

// fakeGateway serves the local API. Sessions issued before revoke() are
// rejected afterwards.
type fakeGateway struct {
	t *testing.T

	mu         sync.Mutex
	handshakes int
	valid      map[string]bool
	rejectAll  bool
	dataStatus int
	delay      time.Duration
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	g := &fakeGateway{t: t, valid: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/check_jwt", g.checkJWT)
	mux.HandleFunc("/production.json", g.serveFixture("production.json"))
	mux.HandleFunc("/api/v1/production/inverters", g.serveFixture("inverters.json"))
	mux.HandleFunc("/inventory.json", func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(w, r) {
			return
		}
		_, _ = w.Write([]byte(`[{"type":"PCU","devices":[]}]`))
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *fakeGateway) checkJWT(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer gateway-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	g.mu.Lock()
	g.handshakes++
	id := fmt.Sprintf("session-%d", g.handshakes)
	g.valid[id] = true
	g.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "sessionId", Value: id})
	_, _ = w.Write([]byte("<!DOCTYPE html><h2>Valid token.</h2>"))
}

func (g *fakeGateway) authorized(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie("sessionId")
	g.mu.Lock()
	ok := err == nil && g.valid[cookie.Value] && !g.rejectAll
	g.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
	}
	return ok
}

func (g *fakeGateway) revoke() {
	g.set(func(g *fakeGateway) { g.valid = map[string]bool{} })
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) handshakeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handshakes
}

func (g *fakeGateway) serveFixture(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		delay, status := g.delay, g.dataStatus
		g.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if !g.authorized(w, r) {
			return
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		raw, err := os.ReadFile(filepath.Join("..", "sample", "testdata", name))
		if !assert.NoError(g.t, err) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}
}

func newClient(srv *httptest.Server, tokens envoy.TokenProvider, timeout time.Duration) *envoy.Client {
	return envoy.NewClient(envoy.ClientConfig{
		URL:     srv.URL,
		Timeout: timeout,
		Tokens:  tokens,
	})
}

func TestFetchPowerAndInverters(t *testing.T) {
	g, srv := newFakeGateway(t)
	tokens := &staticTokens{}
	client := newClient(srv, tokens, time.Second)

	data, err := client.FetchPower(context.Background())
	require.NoError(t, err)
	assert.Len(t, data.Lines(sample.MeasurementProduction), 2)

	inv, err := client.FetchInverters(context.Background())
	require.NoError(t, err)
	assert.Len(t, inv, 3)

	// one handshake serves both requests
	assert.Equal(t, 1, g.handshakeCount())
	assert.Equal(t, 1, tokens.calls)
}

func TestRejectedSessionRetriedOnce(t *testing.T) {
	g, srv := newFakeGateway(t)
	client := newClient(srv, &staticTokens{}, time.Second)

	_, err := client.FetchPower(context.Background())
	require.NoError(t, err)

	g.revoke()

	_, err = client.FetchInverters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, g.handshakeCount())
}

func TestRejectedTwiceIsAuthenticationError(t *testing.T) {
	g, srv := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.rejectAll = true })
	client := newClient(srv, &staticTokens{}, time.Second)

	_, err := client.FetchPower(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrAuthentication, errors.CodeOf(err))
	assert.Equal(t, 2, g.handshakeCount())
}

func TestTokenRejectedByGateway(t *testing.T) {
	_, srv := newFakeGateway(t)
	client := envoy.NewClient(envoy.ClientConfig{URL: srv.URL, Timeout: time.Second, Tokens: tokenFunc("wrong")})

	_, err := client.FetchPower(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrAuthentication, errors.CodeOf(err))
}

type tokenFunc string

func (f tokenFunc) Token(context.Context) (string, error) { return string(f), nil }

func TestTokenErrorPropagates(t *testing.T) {
	_, srv := newFakeGateway(t)
	client := newClient(srv, &staticTokens{err: errors.New(errors.ErrIdentityHTTP)}, time.Second)

	_, err := client.FetchInverters(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrIdentityHTTP, errors.CodeOf(err))
}

func TestTimeoutIsTransient(t *testing.T) {
	g, srv := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.delay = 300 * time.Millisecond })
	client := newClient(srv, &staticTokens{}, 50*time.Millisecond)

	_, err := client.FetchPower(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrTransientTimeout, errors.CodeOf(err))
}

func TestHTTPErrorIsNotTransient(t *testing.T) {
	g, srv := newFakeGateway(t)
	g.set(func(g *fakeGateway) { g.dataStatus = http.StatusInternalServerError })
	client := newClient(srv, &staticTokens{}, time.Second)

	_, err := client.FetchPower(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrDeviceHTTP, errors.CodeOf(err))
}

func TestUnreachableGateway(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client := envoy.NewClient(envoy.ClientConfig{URL: url, Timeout: time.Second, Tokens: &staticTokens{}})

	_, err := client.FetchPower(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrDeviceUnreachable, errors.CodeOf(err))
}

func TestFetchInventory(t *testing.T) {
	_, srv := newFakeGateway(t)
	client := newClient(srv, &staticTokens{}, time.Second)

	raw, err := client.FetchInventory(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"PCU","devices":[]}]`, string(raw))
}
