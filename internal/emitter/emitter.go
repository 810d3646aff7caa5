// Package emitter publishes the execution engine's per-call observability
// events: outbound request, response, failure, stream chunk, stream
// complete. Every event is keyed by the call's identity label and
// correlation id.
package emitter

import (
	"context"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/pubsub"
)

// Kind discriminates call events.
type Kind string

const (
	KindRequest        Kind = "outbound-request"
	KindResponse       Kind = "response"
	KindFailure        Kind = "failure"
	KindStreamChunk    Kind = "stream-chunk"
	KindStreamComplete Kind = "stream-complete"
)

// Event is one call observability record. Exactly one of Request,
// Response, Chunk is set, depending on Kind; Failure events carry Err
// and Attempts.
type Event struct {
	Kind          Kind
	IdentityLabel string
	CorrelationID string

	Request  *dispatch.Request
	Response *dispatch.Response
	Chunk    *dispatch.Chunk

	Err      string
	Attempts int
	Chunks   int
}

// Emitter fans call events out to subscribers.
type Emitter struct {
	broker *pubsub.Broker[Event]
}

func New() *Emitter {
	return &Emitter{broker: pubsub.NewBroker[Event]()}
}

// Subscribe returns a channel of call events, closed when ctx ends or
// the emitter closes.
func (e *Emitter) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return e.broker.Subscribe(ctx)
}

// Close shuts the underlying broker down.
func (e *Emitter) Close() {
	e.broker.Close()
}

func (e *Emitter) publish(ev Event) {
	log.Debug(log.CatEngine, "call event",
		"kind", string(ev.Kind), "identity", ev.IdentityLabel, "correlation_id", ev.CorrelationID)
	e.broker.Publish(pubsub.EmittedEvent, ev)
}

// Request announces the outbound request just before the send loop.
func (e *Emitter) Request(req *dispatch.Request) {
	e.publish(Event{
		Kind:          KindRequest,
		IdentityLabel: req.IdentityLabel,
		CorrelationID: req.CorrelationID,
		Request:       req,
	})
}

// Response announces a decoded success.
func (e *Emitter) Response(resp *dispatch.Response) {
	e.publish(Event{
		Kind:          KindResponse,
		IdentityLabel: resp.IdentityLabel,
		CorrelationID: resp.CorrelationID,
		Response:      resp,
	})
}

// Failure announces an exhausted or terminal call.
func (e *Emitter) Failure(identityLabel, correlationID string, err error, attempts int) {
	ev := Event{
		Kind:          KindFailure,
		IdentityLabel: identityLabel,
		CorrelationID: correlationID,
		Attempts:      attempts,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	e.publish(ev)
}

// Chunk announces one streamed chunk.
func (e *Emitter) Chunk(identityLabel, correlationID string, chunk dispatch.Chunk) {
	e.publish(Event{
		Kind:          KindStreamChunk,
		IdentityLabel: identityLabel,
		CorrelationID: correlationID,
		Chunk:         &chunk,
	})
}

// StreamComplete announces the end of a chunk stream.
func (e *Emitter) StreamComplete(identityLabel, correlationID string, chunks int) {
	e.publish(Event{
		Kind:          KindStreamComplete,
		IdentityLabel: identityLabel,
		CorrelationID: correlationID,
		Chunks:        chunks,
	})
}
