package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/dispatch"
)

func TestCaller_EchoesWithoutScript(t *testing.T) {
	c := New()

	resp, err := c.Call(context.Background(), &dispatch.Request{Instruction: "ping"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mock: ping", resp.Output)
	assert.Equal(t, 1, c.Calls())
}

func TestCaller_ScriptedRepliesInOrder(t *testing.T) {
	c := New()
	c.Enqueue(Reply{Output: "first"})
	c.Enqueue(Reply{Err: &dispatch.ProviderError{StatusCode: 429, Message: "rate limit"}})
	c.Enqueue(Reply{Output: "third"})

	resp, err := c.Call(context.Background(), &dispatch.Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Output)

	_, err = c.Call(context.Background(), &dispatch.Request{}, time.Second)
	var provErr *dispatch.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.True(t, provErr.RateLimited())

	resp, err = c.Call(context.Background(), &dispatch.Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Output)

	// script exhausted
	_, err = c.Call(context.Background(), &dispatch.Request{}, time.Second)
	require.Error(t, err)
}

func TestCaller_StreamSplitsWords(t *testing.T) {
	c := New()
	c.Enqueue(Reply{Output: "hello streaming world"})

	stream, err := c.Stream(context.Background(), &dispatch.Request{}, time.Second)
	require.NoError(t, err)

	var got string
	var final bool
	for ch := range stream {
		got += ch.Delta
		final = ch.Final
	}
	assert.Equal(t, "hello streaming world", got)
	assert.True(t, final)
}

func TestCaller_StreamDiesMidFlight(t *testing.T) {
	c := New()
	c.Enqueue(Reply{Output: "partial words here", Err: &dispatch.ProviderError{StatusCode: 500, Message: "connection reset"}})

	stream, err := c.Stream(context.Background(), &dispatch.Request{}, time.Second)
	require.NoError(t, err)

	var got string
	var final bool
	var streamErr error
	for ch := range stream {
		got += ch.Delta
		final = final || ch.Final
		if ch.Err != nil {
			streamErr = ch.Err
		}
	}
	assert.Equal(t, "partial words here", got)
	assert.False(t, final, "a dying stream must not mark a terminal chunk")
	require.Error(t, streamErr)
}

func TestBackendRegistration(t *testing.T) {
	require.True(t, dispatch.IsRegistered(Slug))

	b, err := dispatch.NewBackend(Slug, map[string]any{"script": []string{"canned"}})
	require.NoError(t, err)
	assert.Equal(t, Slug, b.Slug)

	resp, err := b.Invoke(context.Background(), &dispatch.Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "canned", resp.Output)
}
