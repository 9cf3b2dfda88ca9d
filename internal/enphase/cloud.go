package enphase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"envoy-logger/internal/errors"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultLoginURL = "https://enlighten.enphaseenergy.com"
	DefaultTokenURL = "https://entrez.enphaseenergy.com"
	DefaultTimeout  = 30 * time.Second

	loginPath = "/login/login.json?"
	tokenPath = "/tokens"
)

// CloudClient talks to the Enphase identity services.
type CloudClient struct {
	client   *resty.Client
	loginURL string
	tokenURL string
}

type CloudConfig struct {
	LoginURL string
	TokenURL string
	Timeout  time.Duration
}

type loginResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type tokenRequest struct {
	SessionID string `json:"session_id"`
	SerialNum string `json:"serial_num"`
	Username  string `json:"username"`
}

func NewCloudClient(cfg CloudConfig) *CloudClient {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &CloudClient{
		client:   resty.New().SetTimeout(cfg.Timeout),
		loginURL: strings.TrimRight(cfg.LoginURL, "/"),
		tokenURL: strings.TrimRight(cfg.TokenURL, "/"),
	}
}

// Login signs in to Enlighten and returns the login session id.
func (c *CloudClient) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"user[email]":    email,
			"user[password]": password,
		}).
		Post(c.loginURL + loginPath)
	if err != nil {
		return "", fmt.Errorf("login to enlighten: %w", err)
	}
	if err := checkStatus(resp, "login"); err != nil {
		return "", err
	}

	var out loginResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("decode login response: %w", err))
	}
	if out.SessionID == "" {
		msg := out.Message
		if msg == "" {
			msg = "no session id returned"
		}
		return "", errors.Newf(errors.ErrAuthentication, "enlighten login rejected: %s", msg)
	}

	return out.SessionID, nil
}

// ExchangeToken trades a login session for a token scoped to one gateway.
func (c *CloudClient) ExchangeToken(ctx context.Context, sessionID, serial, email string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(tokenRequest{
			SessionID: sessionID,
			SerialNum: serial,
			Username:  email,
		}).
		Post(c.tokenURL + tokenPath)
	if err != nil {
		return "", fmt.Errorf("exchange token: %w", err)
	}
	if err := checkStatus(resp, "token exchange"); err != nil {
		return "", err
	}

	token := strings.TrimSpace(resp.String())
	if token == "" {
		return "", errors.Newf(errors.ErrMalformedPayload, "token exchange returned an empty body")
	}

	return token, nil
}

func checkStatus(resp *resty.Response, op string) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Newf(errors.ErrAuthentication, "%s rejected: %s", op, resp.Status())
	case resp.IsError():
		return errors.Newf(errors.ErrIdentityHTTP, "%s failed: %s", op, resp.Status())
	}
	return nil
}
