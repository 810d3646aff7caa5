package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCaller returns its canned results in order, then repeats the last.
type scriptedCaller struct {
	calls   int
	results []callResult
}

func (s *scriptedCaller) Call(_ context.Context, req *Request, _ time.Duration) (*Response, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	res := s.results[i]
	if res.resp != nil {
		cp := *res.resp
		cp.CorrelationID = req.CorrelationID
		return &cp, res.err
	}
	return nil, res.err
}

func scriptedBackend(results ...callResult) (*scriptedCaller, Backend) {
	caller := &scriptedCaller{results: results}
	return caller, Backend{
		Slug:           "scripted",
		DefaultModel:   "scripted-1",
		DefaultTimeout: time.Second,
		Caller:         caller,
	}
}

func newTestClient(t *testing.T, cfg ClientConfig, backend Backend, sleeps *[]time.Duration, opts ...ClientOption) *Client {
	t.Helper()
	opts = append(opts, withSleeper(func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}))
	return NewClient(cfg, backend, opts...)
}

func TestClient_SendRequestSucceedsFirstAttempt(t *testing.T) {
	caller, backend := scriptedBackend(callResult{resp: &Response{Output: "hi"}})
	var sleeps []time.Duration
	c := newTestClient(t, ClientConfig{MaxAttempts: 3}, backend, &sleeps)

	resp, err := c.SendRequest(context.Background(), &Request{CorrelationID: "c1"}, 0)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Output)
	assert.Equal(t, "c1", resp.CorrelationID)
	assert.Equal(t, "scripted", resp.Provider)
	assert.Equal(t, "scripted-1", resp.Model)
	assert.Equal(t, 1, caller.calls)
	assert.Empty(t, sleeps)
}

func TestClient_SendRequestRetriesThenSucceeds(t *testing.T) {
	caller, backend := scriptedBackend(
		callResult{err: &ProviderError{StatusCode: 500, Message: "boom", Retriable: true}},
		callResult{err: &ProviderError{StatusCode: 500, Message: "boom", Retriable: true}},
		callResult{resp: &Response{Output: "third time"}},
	)
	var sleeps []time.Duration
	c := newTestClient(t, ClientConfig{MaxAttempts: 3}, backend, &sleeps)

	resp, err := c.SendRequest(context.Background(), &Request{}, 0)
	require.NoError(t, err)
	require.Equal(t, "third time", resp.Output)
	assert.Equal(t, 3, caller.calls)
	assert.Len(t, sleeps, 2)
}

func TestClient_SendRequestExhaustsAttempts(t *testing.T) {
	caller, backend := scriptedBackend(
		callResult{err: &ProviderError{StatusCode: 500, Message: "down"}},
	)
	var sleeps []time.Duration
	c := newTestClient(t, ClientConfig{MaxAttempts: 3}, backend, &sleeps)

	resp, err := c.SendRequest(context.Background(), &Request{}, 0)
	require.Nil(t, resp)

	var failure *CallFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, "scripted", failure.Provider)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 500, provErr.StatusCode)

	assert.Equal(t, 3, caller.calls)
	assert.Len(t, sleeps, 2)
}

func TestClient_SoftFailReturnsResponseWithErrorMeta(t *testing.T) {
	_, backend := scriptedBackend(
		callResult{err: &ProviderError{StatusCode: 503, Message: "overloaded", Retriable: true}},
	)
	var sleeps []time.Duration
	c := newTestClient(t, ClientConfig{MaxAttempts: 2, SoftFail: true}, backend, &sleeps)

	resp, err := c.SendRequest(context.Background(), &Request{CorrelationID: "c9"}, 0)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.True(t, resp.Failed())
	assert.Empty(t, resp.Output)
	assert.Equal(t, "c9", resp.CorrelationID)
	assert.Equal(t, 2, resp.ErrorMeta.Attempts)
	assert.True(t, resp.ErrorMeta.Retriable)
	assert.Contains(t, resp.ErrorMeta.Message, "overloaded")
}

func TestClient_RateLimitHookFires(t *testing.T) {
	_, backend := scriptedBackend(
		callResult{err: &ProviderError{StatusCode: 429, Message: "too many requests"}},
		callResult{resp: &Response{Output: "ok"}},
	)
	var sleeps []time.Duration
	var hints []RateLimitHint
	c := newTestClient(t, ClientConfig{MaxAttempts: 3}, backend, &sleeps,
		WithRateLimitHook(func(h RateLimitHint) { hints = append(hints, h) }))

	_, err := c.SendRequest(context.Background(), &Request{}, 0)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "scripted", hints[0].Provider)
	assert.Equal(t, 1, hints[0].Attempt)
	assert.Greater(t, hints[0].Delay, time.Duration(0))
}

func TestClient_BackoffCappedAtCeiling(t *testing.T) {
	_, backend := scriptedBackend(
		callResult{err: &ProviderError{Message: "down"}},
		callResult{resp: &Response{}},
	)
	var sleeps []time.Duration
	cfg := ClientConfig{
		MaxAttempts: 2,
		Backoff:     Backoff{Initial: time.Hour, Factor: 2, Jitter: 0, Max: time.Hour},
	}
	c := newTestClient(t, cfg, backend, &sleeps)

	_, err := c.SendRequest(context.Background(), &Request{}, 0)
	require.NoError(t, err)
	require.Len(t, sleeps, 1)
	assert.Equal(t, backoffCeiling, sleeps[0])
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	_, backend := scriptedBackend(
		callResult{err: &ProviderError{Message: "down"}},
	)
	ctx, cancel := context.WithCancel(context.Background())

	c := NewClient(ClientConfig{MaxAttempts: 3}, backend,
		withSleeper(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	resp, err := c.SendRequest(ctx, &Request{}, 0)
	require.Nil(t, resp)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_EffectiveTimeoutPrecedence(t *testing.T) {
	_, backend := scriptedBackend(callResult{resp: &Response{}})
	c := NewClient(ClientConfig{Timeout: 5 * time.Second}, backend)

	assert.Equal(t, 2*time.Second, c.effectiveTimeout(2*time.Second))
	assert.Equal(t, 5*time.Second, c.effectiveTimeout(0))

	c2 := NewClient(ClientConfig{}, backend)
	assert.Equal(t, time.Second, c2.effectiveTimeout(0))
}

func TestClient_NameSynthesis(t *testing.T) {
	_, backend := scriptedBackend(callResult{resp: &Response{}})

	c := NewClient(ClientConfig{}, backend)
	assert.Equal(t, "scripted-scripted-1", c.Name())

	named := NewClient(ClientConfig{Name: "primary"}, backend)
	assert.Equal(t, "primary", named.Name())
}

func TestClient_StreamRequestNoStreamer(t *testing.T) {
	_, backend := scriptedBackend(callResult{resp: &Response{}})
	c := NewClient(ClientConfig{}, backend)

	_, err := c.StreamRequest(context.Background(), &Request{}, 0)
	require.ErrorIs(t, err, ErrNoStreamer)
}

type scriptedStreamer struct {
	failures int
	chunks   []Chunk
}

func (s *scriptedStreamer) Stream(_ context.Context, _ *Request, _ time.Duration) (<-chan Chunk, error) {
	if s.failures > 0 {
		s.failures--
		return nil, &ProviderError{StatusCode: 500, Message: "stream open failed"}
	}
	out := make(chan Chunk, len(s.chunks))
	for _, ch := range s.chunks {
		out <- ch
	}
	close(out)
	return out, nil
}

func TestClient_StreamRequestRetriesOpen(t *testing.T) {
	_, backend := scriptedBackend(callResult{resp: &Response{}})
	backend.Streamer = &scriptedStreamer{
		failures: 1,
		chunks:   []Chunk{{Index: 0, Delta: "he"}, {Index: 1, Delta: "llo", Final: true}},
	}
	var sleeps []time.Duration
	c := newTestClient(t, ClientConfig{MaxAttempts: 3}, backend, &sleeps)

	stream, err := c.StreamRequest(context.Background(), &Request{}, 0)
	require.NoError(t, err)
	require.Len(t, sleeps, 1)

	var got string
	for ch := range stream {
		got += ch.Delta
	}
	assert.Equal(t, "hello", got)
}
