// Package mock provides a scripted in-process provider backend, used by
// the playground command and by tests. It registers itself under the
// "mock" slug.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/dispatch"
)

const Slug = "mock"

func init() {
	dispatch.RegisterBackend(Slug, func(options map[string]any) (dispatch.Backend, error) {
		caller := New()
		if script, ok := options["script"].([]string); ok {
			for _, out := range script {
				caller.Enqueue(Reply{Output: out})
			}
		}
		if echo, ok := options["echo"].(bool); ok && echo {
			caller.echo = true
		}
		return dispatch.Backend{
			Slug:           Slug,
			DefaultModel:   "mock-1",
			DefaultTimeout: 5 * time.Second,
			Caller:         caller,
			Streamer:       caller,
		}, nil
	})
}

// Reply is one scripted turn.
type Reply struct {
	Output string
	Err    error
	// Delay simulates provider latency before the reply is returned.
	Delay time.Duration
}

// Caller replays scripted replies in order. With no script it echoes the
// request instruction back.
type Caller struct {
	mu      sync.Mutex
	replies []Reply
	calls   int
	echo    bool
}

func New() *Caller {
	return &Caller{echo: true}
}

// Enqueue appends a scripted reply.
func (c *Caller) Enqueue(r Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, r)
	c.echo = false
}

// Calls reports how many calls the backend has served.
func (c *Caller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Caller) next(req *dispatch.Request) Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.replies) > 0 {
		r := c.replies[0]
		c.replies = c.replies[1:]
		return r
	}
	if c.echo {
		return Reply{Output: echoOutput(req)}
	}
	return Reply{Err: &dispatch.ProviderError{StatusCode: 500, Message: "mock script exhausted"}}
}

func echoOutput(req *dispatch.Request) string {
	if req.Instruction != "" {
		return fmt.Sprintf("mock: %s", req.Instruction)
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == dispatch.RoleUser {
			return fmt.Sprintf("mock: %s", req.Messages[i].Content)
		}
	}
	return "mock: empty request"
}

func (c *Caller) Call(ctx context.Context, req *dispatch.Request, _ time.Duration) (*dispatch.Response, error) {
	r := c.next(req)
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &dispatch.Response{
		Output: r.Output,
		Usage: dispatch.Usage{
			InputTokens:  approxTokens(req.Instruction),
			OutputTokens: approxTokens(r.Output),
		},
	}, nil
}

// Stream yields the reply split on word boundaries, one chunk per word,
// ending with a Final chunk. A reply carrying both Output and Err streams
// the words and then dies mid-flight with an in-band error chunk.
func (c *Caller) Stream(ctx context.Context, req *dispatch.Request, _ time.Duration) (<-chan dispatch.Chunk, error) {
	r := c.next(req)
	if r.Err != nil && r.Output == "" {
		return nil, r.Err
	}

	words := strings.SplitAfter(r.Output, " ")
	out := make(chan dispatch.Chunk, len(words)+1)
	go func() {
		defer close(out)
		for i, w := range words {
			chunk := dispatch.Chunk{Index: i, Delta: w, Final: r.Err == nil && i == len(words)-1}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if r.Err != nil {
			select {
			case out <- dispatch.Chunk{Index: len(words), Err: r.Err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}
