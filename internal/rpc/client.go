// Package rpc is a thin HTTP JSON client for the guestsync RPC endpoints.
// Every remote primitive is invoked as POST <base>/rpc/<fn> with a JSON body
// and a bearer token, mirroring the PostgREST-style backend.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Client calls RPC functions over HTTP. Safe for concurrent use.
type Client struct {
	base    string
	token   string
	hc      *http.Client
	log     *zap.Logger
	backoff time.Duration
	retries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithRetry tunes the bounded backoff used by CallIdempotent.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) { c.backoff, c.retries = base, maxRetries }
}

// New constructs a client for the given base URL and bearer token.
func New(base, token string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		base:    base,
		token:   token,
		hc:      &http.Client{Timeout: 15 * time.Second},
		log:     logger,
		backoff: 250 * time.Millisecond,
		retries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// errorEnvelope is the body shape of a non-2xx response.
type errorEnvelope struct {
	Error string `json:"error"`
}

// Call invokes fn exactly once and decodes the response into out (out may be
// nil). A non-2xx status is returned as an error carrying the server message.
func (c *Client) Call(ctx context.Context, fn string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc %s: encode: %w", fn, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc/"+fn, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	defer resp.Body.Close()

	c.log.Debug("rpc",
		zap.String("fn", fn),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env errorEnvelope
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return fmt.Errorf("rpc %s: %w", fn, &ServerError{Status: resp.StatusCode, Message: env.Error})
		}
		return fmt.Errorf("rpc %s: %w", fn, &ServerError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", fn, err)
	}
	return nil
}

// CallIdempotent invokes fn with bounded exponential backoff. Only safe for
// functions that tolerate duplicate delivery (integrity reads, saga start,
// which collapses duplicates via its idempotency key). Transport failures and
// 5xx responses are retried; 4xx responses are terminal.
func (c *Client) CallIdempotent(ctx context.Context, fn string, req, out any) error {
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.Call(ctx, fn, req, out)
		if err == nil {
			return nil
		}
		var se *ServerError
		if errors.As(err, &se) && se.Status < 500 {
			return err // terminal
		}
		return retry.RetryableError(err)
	})
}

// ServerError carries the HTTP status and server-supplied message of a failed
// call, so callers can prefer the specific message over a generic one.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}
