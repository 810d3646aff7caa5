package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Caller is a non-blocking provider call: it honors ctx and returns when
// the call completes or ctx is cancelled.
type Caller interface {
	Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error)
}

// BlockingCaller is a provider call with no cancellation support of its
// own. The dispatch layer offloads it to a goroutine so it cannot stall
// concurrent work, and abandons it on ctx cancellation.
type BlockingCaller interface {
	CallBlocking(req *Request, timeout time.Duration) (*Response, error)
}

// Streamer is an optional streaming variant of a provider call. The
// returned channel is closed when the stream ends.
type Streamer interface {
	Stream(ctx context.Context, req *Request, timeout time.Duration) (<-chan Chunk, error)
}

// Backend wraps one provider. Exactly one of Caller or Blocking is set;
// the variant is tagged here, at construction, instead of probed at
// runtime. Streamer is optional.
type Backend struct {
	Slug           string
	DefaultModel   string
	DefaultTimeout time.Duration

	Caller   Caller
	Blocking BlockingCaller
	Streamer Streamer
}

// Backend errors
var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNoCaller       = errors.New("backend has no call variant configured")
	ErrNoStreamer     = errors.New("backend does not support streaming")
)

// Invoke performs a single provider call, branching on the tagged variant.
func (b Backend) Invoke(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	switch {
	case b.Caller != nil:
		return b.Caller.Call(ctx, req, timeout)
	case b.Blocking != nil:
		return b.invokeBlocking(ctx, req, timeout)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoCaller, b.Slug)
	}
}

type callResult struct {
	resp *Response
	err  error
}

// invokeBlocking offloads a blocking call so the caller's goroutine keeps
// honoring ctx. An abandoned call finishes in the background; its result
// is dropped.
func (b Backend) invokeBlocking(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	done := make(chan callResult, 1)
	go func() {
		resp, err := b.Blocking.CallBlocking(req, timeout)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProviderError is a failure reported by a provider backend.
type ProviderError struct {
	StatusCode int
	Message    string
	Retriable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// RateLimited reports whether the error is a rate-limit condition: status
// 429 or a recognizable message pattern.
func (e *ProviderError) RateLimited() bool {
	if e.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// backendRegistry holds registered backend factories by provider slug.
var (
	backendMu       sync.Mutex
	backendRegistry = make(map[string]func(options map[string]any) (Backend, error))
)

// RegisterBackend registers a backend factory for the given provider slug.
// Called from init functions of provider packages.
func RegisterBackend(slug string, factory func(options map[string]any) (Backend, error)) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendRegistry[slug] = factory
}

// NewBackend constructs a backend for the given provider slug.
// Returns ErrUnknownBackend if the slug is not registered.
func NewBackend(slug string, options map[string]any) (Backend, error) {
	backendMu.Lock()
	factory, ok := backendRegistry[slug]
	backendMu.Unlock()
	if !ok {
		return Backend{}, fmt.Errorf("%w: %s", ErrUnknownBackend, slug)
	}
	return factory(options)
}

// RegisteredBackends returns all registered provider slugs, sorted.
func RegisteredBackends() []string {
	backendMu.Lock()
	defer backendMu.Unlock()
	slugs := make([]string, 0, len(backendRegistry))
	for slug := range backendRegistry {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// IsRegistered reports whether the given provider slug has a factory.
func IsRegistered(slug string) bool {
	backendMu.Lock()
	defer backendMu.Unlock()
	_, ok := backendRegistry[slug]
	return ok
}
