package envoy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultURL     = "https://envoy.local"
	DefaultTimeout = 30 * time.Second

	sessionCookie = "sessionId"

	checkJWTPath   = "/auth/check_jwt"
	productionPath = "/production.json?details=1"
	invertersPath  = "/api/v1/production/inverters"
	inventoryPath  = "/inventory.json?deleted=1"
)

// Client reads telemetry from the gateway's local API.
type Client struct {
	http     *resty.Client
	baseURL  string
	sessions *SessionManager
	now      func() time.Time
	log      zerolog.Logger
}

type ClientConfig struct {
	URL     string
	Timeout time.Duration
	Tokens  TokenProvider
	// SessionMaxAge of zero keeps a session until the gateway rejects it.
	SessionMaxAge time.Duration
	Now           func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// The gateway serves a self-signed certificate. The session cookie is
	// set per request, so the shared jar is disabled.
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}). //nolint:gosec
		SetCookieJar(nil)

	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		now:     cfg.Now,
		log:     logger.With("envoy"),
	}
	c.sessions = NewSessionManager(cfg.Tokens, c, cfg.SessionMaxAge, cfg.Now)
	return c
}

// Sessions exposes the client's session manager.
func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

// CheckJWT performs the token handshake and returns the session id cookie.
func (c *Client) CheckJWT(ctx context.Context, token string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(c.baseURL + checkJWTPath)
	if err != nil {
		return "", classifyTransportError(err, "session handshake")
	}
	if rejected(resp) {
		return "", errors.Newf(errors.ErrAuthentication, "gateway rejected token: %s", resp.Status())
	}
	if resp.IsError() {
		return "", errors.Newf(errors.ErrDeviceHTTP, "session handshake failed: %s", resp.Status())
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", errors.Newf(errors.ErrMalformedPayload, "session handshake returned no %s cookie", sessionCookie)
}

// FetchPower reads the per-line EIM measurements.
func (c *Client) FetchPower(ctx context.Context) (sample.SampleData, error) {
	c.log.Debug().Msg("fetching power data")
	raw, err := c.get(ctx, productionPath)
	if err != nil {
		return sample.SampleData{}, err
	}
	return sample.ParseSampleData(raw, c.now())
}

// FetchInverters reads the last report of every microinverter.
func (c *Client) FetchInverters(ctx context.Context) (sample.InverterSet, error) {
	c.log.Debug().Msg("fetching inverter data")
	raw, err := c.get(ctx, invertersPath)
	if err != nil {
		return nil, err
	}
	return sample.ParseInverters(raw, c.now())
}

// FetchInventory returns the raw device inventory, including deleted
// devices.
func (c *Client) FetchInventory(ctx context.Context) (json.RawMessage, error) {
	c.log.Debug().Msg("fetching inventory")
	raw, err := c.get(ctx, inventoryPath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, errors.Newf(errors.ErrMalformedPayload, "inventory is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// get issues an authenticated GET. A rejected session is re-established
// and the request retried once.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		sessionID, err := c.sessions.SessionID(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetCookie(&http.Cookie{Name: sessionCookie, Value: sessionID}).
			Get(c.baseURL + path)
		if err != nil {
			return nil, classifyTransportError(err, path)
		}

		if rejected(resp) {
			c.sessions.Invalidate()
			if attempt == 0 {
				c.log.Info().Str("path", path).Msg("session rejected, logging in again")
				continue
			}
			return nil, errors.Newf(errors.ErrAuthentication, "gateway rejected new session for %s: %s", path, resp.Status())
		}
		if resp.IsError() {
			return nil, errors.Newf(errors.ErrDeviceHTTP, "GET %s: %s", path, resp.Status())
		}

		return resp.Body(), nil
	}
}

func rejected(resp *resty.Response) bool {
	return resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden
}

func classifyTransportError(err error, op string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return errors.Wrap(errors.ErrTransientTimeout, fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, context.Canceled):
		return errors.Wrap(errors.ErrOperationCanceled, fmt.Errorf("%s: %w", op, err))
	default:
		return errors.Wrap(errors.ErrDeviceUnreachable, fmt.Errorf("%s: %w", op, err))
	}
}
