// Package codec defines the encode/decode hooks a service call runs
// around its provider request, plus the descriptor shape the resolution
// pipeline selects between.
package codec

import (
	"context"
	"fmt"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/identity"
)

// Codec attaches structured-output hints to an outbound request and
// validates/decodes structured output from the response. One instance
// serves exactly one call; Setup and Teardown bracket its lifetime.
type Codec interface {
	Setup(ctx context.Context) error

	// Encode may attach an output schema and rewrite request content.
	Encode(ctx context.Context, req *dispatch.Request) error

	// Decode populates resp.Decoded from resp.Output.
	Decode(ctx context.Context, resp *dispatch.Response) error

	// DecodeChunk observes one streamed chunk.
	DecodeChunk(ctx context.Context, chunk dispatch.Chunk) error

	Teardown(ctx context.Context) error
}

// Accumulator is implemented by codecs whose DecodeChunk assembles the
// streamed deltas itself. The engine takes Buffered as the stream's
// authoritative output instead of its own concatenation.
type Accumulator interface {
	Buffered() string
}

// Constraint describes the call a codec candidate must support.
type Constraint struct {
	Service    identity.Identity
	Structured bool
	Streaming  bool
}

// Descriptor is the registrable unit: identity, selection priority, a
// constructor for per-call instances, and a support predicate. Higher
// priority wins; identity label breaks ties.
type Descriptor struct {
	Identity identity.Identity
	Priority int
	New      func() Codec
	Supports func(Constraint) bool
}

// Accepts reports whether the descriptor can serve the constraint. A nil
// predicate accepts everything.
func (d Descriptor) Accepts(c Constraint) bool {
	if d.Supports == nil {
		return true
	}
	return d.Supports(c)
}

// DecodeError is a decode-hook failure. Retriable tells the execution
// engine whether resending the request could plausibly produce decodable
// output.
type DecodeError struct {
	Message   string
	Retriable bool
	Cause     error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Cause)
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Base is a no-op Codec to embed when only some hooks matter.
type Base struct{}

func (Base) Setup(context.Context) error                       { return nil }
func (Base) Encode(context.Context, *dispatch.Request) error   { return nil }
func (Base) Decode(context.Context, *dispatch.Response) error  { return nil }
func (Base) DecodeChunk(context.Context, dispatch.Chunk) error { return nil }
func (Base) Teardown(context.Context) error                    { return nil }
