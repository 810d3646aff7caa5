package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/codec"
	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/tracing"
)

// ChunkFunc observes one streamed chunk. Returning an error aborts the
// stream.
type ChunkFunc func(chunk dispatch.Chunk) error

// Stream runs the streaming path for svc. Opening the stream is retried
// on the engine's attempt budget; once the first chunk has been delivered
// to fn a failure is terminal, a partial stream is never resent.
func (e *Executor) Stream(ctx context.Context, svc *ServiceSpec, callCtx ContextMap, fn ChunkFunc) (*dispatch.Response, error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanStream, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	c, client, err := e.prepare(ctx, svc, callCtx, true)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer c.done(ctx)

	span.SetAttributes(
		attribute.String(tracing.AttrIdentity, c.req.IdentityLabel),
		attribute.String(tracing.AttrCorrelationID, c.req.CorrelationID),
		attribute.String(tracing.AttrProvider, client.Provider()),
	)

	e.emitter.Request(c.req)

	resp, attempts, err := e.streamLoop(ctx, c, client, fn)
	span.SetAttributes(attribute.Int(tracing.AttrAttempts, attempts))
	if err != nil {
		e.emitter.Failure(c.req.IdentityLabel, c.req.CorrelationID, err, attempts)
		span.SetStatus(codes.Error, err.Error())
		if svc.SoftFail {
			span.SetAttributes(attribute.Bool(tracing.AttrSoftFailure, true))
			return softResponse(c.req, err, attempts), nil
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (e *Executor) streamLoop(ctx context.Context, c *call, client *dispatch.Client, fn ChunkFunc) (*dispatch.Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		resp, delivered, err := e.consumeStream(ctx, c, client, fn)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		// once the caller has seen a chunk, a failure is terminal
		if delivered > 0 {
			log.Warn(log.CatEngine, "stream failed after delivery, not retrying",
				"identity", c.req.IdentityLabel, "chunks", delivered)
			return nil, attempt, err
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt == e.maxAttempts {
			break
		}
		if serr := e.sleep(ctx, e.backoff.Delay(attempt)); serr != nil {
			return nil, attempt, serr
		}
	}
	return nil, e.maxAttempts, lastErr
}

func (e *Executor) consumeStream(ctx context.Context, c *call, client *dispatch.Client, fn ChunkFunc) (*dispatch.Response, int, error) {
	stream, err := client.StreamRequest(ctx, c.req, c.spec.Timeout)
	if err != nil {
		return nil, 0, err
	}

	var out strings.Builder
	delivered := 0
	terminal := false
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, delivered, fmt.Errorf("stream failed mid-flight: %w", chunk.Err)
		}
		if c.codec != nil {
			if derr := c.codec.DecodeChunk(ctx, chunk); derr != nil {
				return nil, delivered, derr
			}
		}
		e.emitter.Chunk(c.req.IdentityLabel, c.req.CorrelationID, chunk)
		if fn != nil {
			if ferr := fn(chunk); ferr != nil {
				return nil, delivered, ferr
			}
		}
		delivered++
		out.WriteString(chunk.Delta)
		if chunk.Final {
			terminal = true
		}

		if ctx.Err() != nil {
			return nil, delivered, ctx.Err()
		}
	}
	// a close without the terminal chunk means the provider died
	// mid-stream; never pass truncated output off as a clean response
	if !terminal {
		return nil, delivered, fmt.Errorf("%w (after %d chunks)", ErrTruncatedStream, delivered)
	}

	e.emitter.StreamComplete(c.req.IdentityLabel, c.req.CorrelationID, delivered)

	assembled := out.String()
	if acc, ok := c.codec.(codec.Accumulator); ok {
		assembled = acc.Buffered()
	}
	resp := &dispatch.Response{
		CorrelationID: c.req.CorrelationID,
		IdentityLabel: c.req.IdentityLabel,
		Output:        assembled,
		Provider:      client.Provider(),
		Model:         client.Model(),
	}
	if c.codec != nil {
		if derr := c.codec.Decode(ctx, resp); derr != nil {
			return nil, delivered, derr
		}
	}
	return resp, delivered, nil
}
