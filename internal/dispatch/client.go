package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// backoffCeiling is the hard cap on any single dispatch-layer delay,
// applied on top of the configured Backoff.Max.
const backoffCeiling = 30 * time.Second

// DefaultMaxAttempts is the dispatch-layer attempt budget when the client
// configuration does not set one.
const DefaultMaxAttempts = 3

// ClientConfig configures one constructed client.
type ClientConfig struct {
	// Name is the registry name; synthesized from provider and model
	// when empty.
	Name     string
	Provider string
	Model    string

	// Timeout overrides the backend's default per-call timeout.
	Timeout time.Duration

	MaxAttempts int
	Backoff     Backoff

	// SoftFail downgrades an exhausted call to a soft-failure response
	// instead of an error.
	SoftFail bool
}

// RateLimitHint is passed to the rate-limit observability hook before the
// dispatch layer continues its backoff.
type RateLimitHint struct {
	Provider string
	Message  string
	Attempt  int
	Delay    time.Duration
}

// CallFailure wraps the last underlying error after the attempt budget is
// exhausted.
type CallFailure struct {
	Provider string
	Attempts int
	Last     error
}

func (e *CallFailure) Error() string {
	return fmt.Sprintf("call to provider %q failed after %d attempts: %v", e.Provider, e.Attempts, e.Last)
}

func (e *CallFailure) Unwrap() error { return e.Last }

// Client wraps one provider backend with a retrying send/stream surface.
type Client struct {
	cfg         ClientConfig
	backend     Backend
	onRateLimit func(RateLimitHint)
	sleep       func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithRateLimitHook installs the rate-limit observability hook.
func WithRateLimitHook(hook func(RateLimitHint)) ClientOption {
	return func(c *Client) { c.onRateLimit = hook }
}

// withSleeper replaces the backoff sleeper. Test hook.
func withSleeper(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient constructs a client around a backend.
func NewClient(cfg ClientConfig, backend Backend, opts ...ClientOption) *Client {
	if cfg.Provider == "" {
		cfg.Provider = backend.Slug
	}
	if cfg.Model == "" {
		cfg.Model = backend.DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = synthesizeName(cfg.Provider, cfg.Model)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}

	c := &Client{cfg: cfg, backend: backend, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func synthesizeName(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "-" + model
}

// Name returns the client's registry name.
func (c *Client) Name() string { return c.cfg.Name }

// Provider returns the provider slug the client dispatches to.
func (c *Client) Provider() string { return c.cfg.Provider }

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// Config returns a copy of the client configuration.
func (c *Client) Config() ClientConfig { return c.cfg }

// effectiveTimeout resolves the per-call timeout: explicit argument, then
// client configuration, then provider default.
func (c *Client) effectiveTimeout(explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return c.backend.DefaultTimeout
}

// SendRequest performs the provider call inside the dispatch layer's own
// attempt/backoff loop. Exhausting attempts returns a CallFailure wrapping
// the last error, or a soft-failure response when the client is configured
// for it.
func (c *Client) SendRequest(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	eff := c.effectiveTimeout(timeout)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.backend.Invoke(ctx, req, eff)
		if err == nil {
			c.stamp(resp, req)
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := c.cfg.Backoff.Delay(attempt)
		if delay > backoffCeiling {
			delay = backoffCeiling
		}

		var provErr *ProviderError
		if errors.As(err, &provErr) && provErr.RateLimited() && c.onRateLimit != nil {
			c.onRateLimit(RateLimitHint{
				Provider: c.cfg.Provider,
				Message:  provErr.Message,
				Attempt:  attempt,
				Delay:    delay,
			})
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		log.Debug(log.CatDispatch, "provider call failed, backing off",
			"provider", c.cfg.Provider, "attempt", attempt, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	failure := &CallFailure{Provider: c.cfg.Provider, Attempts: c.cfg.MaxAttempts, Last: lastErr}
	if c.cfg.SoftFail {
		log.Warn(log.CatDispatch, "provider call exhausted attempts, soft failure",
			"provider", c.cfg.Provider, "attempts", c.cfg.MaxAttempts)
		return c.softResponse(req, failure), nil
	}
	return nil, failure
}

// StreamRequest opens a chunk stream. Opening is retried on the same
// budget as SendRequest; once a stream is returned, failures are the
// consumer's to observe and are never retried here.
func (c *Client) StreamRequest(ctx context.Context, req *Request, timeout time.Duration) (<-chan Chunk, error) {
	if c.backend.Streamer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStreamer, c.cfg.Provider)
	}
	eff := c.effectiveTimeout(timeout)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		stream, err := c.backend.Streamer.Stream(ctx, req, eff)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.Backoff.Delay(attempt)
		if delay > backoffCeiling {
			delay = backoffCeiling
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &CallFailure{Provider: c.cfg.Provider, Attempts: c.cfg.MaxAttempts, Last: lastErr}
}

// stamp fills response fields the backend does not know about.
func (c *Client) stamp(resp *Response, req *Request) {
	if resp == nil {
		return
	}
	if resp.CorrelationID == "" {
		resp.CorrelationID = req.CorrelationID
	}
	if resp.IdentityLabel == "" {
		resp.IdentityLabel = req.IdentityLabel
	}
	if resp.Provider == "" {
		resp.Provider = c.cfg.Provider
	}
	if resp.Model == "" {
		resp.Model = c.cfg.Model
	}
}

func (c *Client) softResponse(req *Request, failure *CallFailure) *Response {
	retriable := false
	var provErr *ProviderError
	if errors.As(failure.Last, &provErr) {
		retriable = provErr.Retriable
	}
	return &Response{
		CorrelationID: req.CorrelationID,
		IdentityLabel: req.IdentityLabel,
		Provider:      c.cfg.Provider,
		Model:         c.cfg.Model,
		ErrorMeta: &ErrorMeta{
			Message:   failure.Error(),
			Attempts:  failure.Attempts,
			Retriable: retriable,
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
