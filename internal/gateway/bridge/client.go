// Package bridge talks to the protocol bridge: a sidecar that owns the
// messaging-account connections and exposes them over HTTP.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/gateway"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultFailThreshold = 3
	defaultOpenFor       = 15 * time.Second
	maxErrorBody         = 4 << 10
)

type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	br      *breaker
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = defaultFailThreshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = defaultOpenFor
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		br:      newBreaker(cfg.FailThreshold, cfg.OpenFor),
	}
}

type challengeRequest struct {
	Phone string `json:"phone"`
}

type challengeResponse struct {
	SessionID     string `json:"sessionId"`
	PhoneCodeHash string `json:"phoneCodeHash"`
}

func (c *Client) RequestChallenge(ctx context.Context, identifier string) (gateway.Challenge, error) {
	var resp challengeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/challenges", challengeRequest{Phone: identifier}, &resp); err != nil {
		return gateway.Challenge{}, err
	}
	if resp.SessionID == "" || resp.PhoneCodeHash == "" {
		return gateway.Challenge{}, fmt.Errorf("%w: incomplete challenge response", gateway.ErrUnavailable)
	}
	return gateway.Challenge{Token: resp.PhoneCodeHash, Context: resp.SessionID}, nil
}

type openSessionRequest struct {
	Credential string `json:"credential,omitempty"`
	Resume     string `json:"resume,omitempty"`
}

type openSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// OpenSession resumes the challenge session named by a handshake source, or
// starts a new one authenticated with a credential.
func (c *Client) OpenSession(ctx context.Context, src gateway.Source) (gateway.Session, error) {
	req := openSessionRequest{Credential: src.Credential}
	if src.IsHandshake() {
		req = openSessionRequest{Resume: src.HandshakeContext}
	}

	var resp openSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", gateway.ErrUnavailable)
	}
	if src.IsHandshake() && resp.SessionID != src.HandshakeContext {
		// A different id means the bridge started a fresh connection, which
		// cannot redeem a code issued on the original one.
		return nil, fmt.Errorf("%w: bridge did not resume session", gateway.ErrSessionUnknown)
	}
	return &session{id: resp.SessionID, client: c}, nil
}

func (c *Client) CloseSession(ctx context.Context, s gateway.Session) error {
	err := c.do(ctx, http.MethodDelete, sessionPath(s.ID(), ""), nil, nil)
	if errors.Is(err, gateway.ErrSessionUnknown) {
		return nil
	}
	return err
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	if !c.br.tryAcquire() {
		return fmt.Errorf("%w: circuit open", gateway.ErrUnavailable)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// the caller gave up, which says nothing about the bridge
			c.br.release()
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		c.br.onFailure()
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		c.br.onFailure()
		log.Warn().Str("path", path).Int("status", res.StatusCode).Msg("bridge server error")
		return fmt.Errorf("%w: status %d", gateway.ErrUnavailable, res.StatusCode)
	}
	c.br.onSuccess()

	if res.StatusCode/100 != 2 {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(res.Body, maxErrorBody)).Decode(&e)
		return mapError(res.StatusCode, e)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode bridge request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func mapError(status int, e errorResponse) error {
	switch e.Code {
	case "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY":
		return gateway.ErrCodeInvalid
	case "PHONE_CODE_EXPIRED":
		return gateway.ErrCodeExpired
	case "SESSION_PASSWORD_NEEDED":
		return &gateway.SecondFactorError{Continuation: e.SessionID}
	case "PASSWORD_HASH_INVALID":
		return gateway.ErrPasswordInvalid
	case "FLOOD_WAIT":
		return gateway.ErrFloodWait
	case "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED":
		return gateway.ErrIdentifierInvalid
	case "SESSION_NOT_FOUND", "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED":
		return gateway.ErrSessionUnknown
	}
	if status == http.StatusTooManyRequests {
		return gateway.ErrFloodWait
	}
	if status == http.StatusNotFound {
		return gateway.ErrSessionUnknown
	}
	return fmt.Errorf("bridge error status=%d code=%s: %s", status, e.Code, e.Message)
}

func sessionPath(id, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(id) + suffix
}
