// Package engine executes one service call end to end: build the request
// from the resolved prompt, resolve a codec and client, send with retry
// (or stream), decode, and emit observability events along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/relay/internal/codec"
	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/emitter"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/prompt"
	"github.com/zjrosen/relay/internal/registry"
	"github.com/zjrosen/relay/internal/resolve"
	"github.com/zjrosen/relay/internal/schema"
	"github.com/zjrosen/relay/internal/tracing"
)

// ContextMap carries the key/value context a service call runs with.
type ContextMap map[string]any

// ServiceSpec declares one executable service: its identity, prompt,
// codec/schema preferences, required context, and client selection.
type ServiceSpec struct {
	Identity identity.Identity

	// Plan is an explicit prompt plan; when nil the registry is consulted.
	Plan *prompt.Plan

	// OutputType is a value of the structured-output type, the
	// class-default schema source. Nil means unstructured output.
	OutputType any
	// SchemaOverride beats OutputType and the registry.
	SchemaOverride any
	SchemaAdapters []schema.Adapter

	// Codec is the service-declared codec; CodecOverride beats it.
	Codec         *codec.Descriptor
	CodecOverride *codec.Descriptor

	// RequiredContext names context keys that must be present and
	// non-nil before the call builds.
	RequiredContext []string
	// Context is the instance-level context, merged under any per-call
	// override.
	Context ContextMap

	// Client selection, tried in order: explicit instance, registry
	// name, provider slug, construction from config.
	Client       *dispatch.Client
	ClientName   string
	Provider     string
	ClientConfig *dispatch.ClientConfig

	// Timeout is handed to the dispatch layer per call.
	Timeout time.Duration

	// SoftFail returns an error-carrying response instead of failing
	// when every attempt is exhausted.
	SoftFail bool
}

// MissingContextError names the required context keys absent at call time.
type MissingContextError struct {
	Keys []string
}

func (e *MissingContextError) Error() string {
	return "missing required context keys: " + strings.Join(e.Keys, ", ")
}

var (
	ErrBuildRequest    = errors.New("engine: request has neither instruction nor message")
	ErrNoClient        = errors.New("engine: no resolvable client")
	ErrTruncatedStream = errors.New("engine: stream ended before its terminal chunk")
)

// Executor runs service calls against one component store and client set.
type Executor struct {
	store   *registry.Store
	clients *dispatch.ClientSet
	emitter *emitter.Emitter
	tracer  trace.Tracer

	maxAttempts int
	backoff     dispatch.Backoff
	sleep       func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTracer installs the tracer spans are created from.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

// WithRetry sets the engine-level attempt budget and backoff. This loop
// is independent of the dispatch layer's own retry loop.
func WithRetry(maxAttempts int, backoff dispatch.Backoff) ExecutorOption {
	return func(e *Executor) {
		e.maxAttempts = maxAttempts
		e.backoff = backoff
	}
}

// withSleeper replaces the backoff sleeper. Test hook.
func withSleeper(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

func New(store *registry.Store, clients *dispatch.ClientSet, em *emitter.Emitter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		clients:     clients,
		emitter:     em,
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		maxAttempts: 1,
		backoff:     dispatch.DefaultBackoff(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// call is the per-call state shared by the execute and stream paths.
type call struct {
	spec  *ServiceSpec
	req   *dispatch.Request
	codec codec.Codec
	done  func(context.Context)
}

// Execute runs the non-streaming path for svc, with callCtx merged over
// the service's own context.
func (e *Executor) Execute(ctx context.Context, svc *ServiceSpec, callCtx ContextMap) (*dispatch.Response, error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanExecute, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	c, client, err := e.prepare(ctx, svc, callCtx, false)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer c.done(ctx)

	span.SetAttributes(
		attribute.String(tracing.AttrIdentity, c.req.IdentityLabel),
		attribute.String(tracing.AttrCorrelationID, c.req.CorrelationID),
		attribute.String(tracing.AttrProvider, client.Provider()),
		attribute.String(tracing.AttrModel, client.Model()),
	)

	e.emitter.Request(c.req)

	resp, attempts, err := e.sendLoop(ctx, c, client)
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

	e.emitter.Response(resp)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// sendLoop runs the engine-level attempt loop: each attempt is one
// dispatch-layer send plus the codec decode. A retriable decode failure
// consumes an attempt like a provider failure.
func (e *Executor) sendLoop(ctx context.Context, c *call, client *dispatch.Client) (*dispatch.Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		resp, err := client.SendRequest(ctx, c.req, c.spec.Timeout)
		if err == nil && resp.Failed() {
			// dispatch-layer soft failure still counts as a failed attempt
			err = fmt.Errorf("provider soft failure: %s", resp.ErrorMeta.Message)
		}
		if err == nil {
			tagResponse(resp, c.req)
			err = e.decode(ctx, c, resp)
			if err == nil {
				return resp, attempt, nil
			}
			var decodeErr *codec.DecodeError
			if errors.As(err, &decodeErr) && !decodeErr.Retriable {
				return nil, attempt, err
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt == e.maxAttempts {
			return nil, attempt, lastErr
		}

		delay := e.backoff.Delay(attempt)
		log.Debug(log.CatEngine, "attempt failed, backing off",
			"identity", c.req.IdentityLabel, "attempt", attempt, "delay", delay, "error", err)
		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, attempt, serr
		}
	}
	return nil, e.maxAttempts, lastErr
}

func (e *Executor) decode(ctx context.Context, c *call, resp *dispatch.Response) error {
	if c.codec == nil {
		return nil
	}
	return c.codec.Decode(ctx, resp)
}

// prepare validates context, builds the request, and resolves codec,
// schema, and client. The returned call's done hook runs the codec
// teardown exactly once; callers must defer it.
func (e *Executor) prepare(ctx context.Context, svc *ServiceSpec, callCtx ContextMap, streaming bool) (*call, *dispatch.Client, error) {
	if err := checkRequiredContext(svc, callCtx); err != nil {
		return nil, nil, err
	}

	req, err := e.buildRequest(svc)
	if err != nil {
		return nil, nil, err
	}

	c := &call{spec: svc, req: req, done: func(context.Context) {}}

	schemaRes, err := resolve.Schema(e.store, resolve.SchemaInputs{
		Override: svc.SchemaOverride,
		Default:  svc.OutputType,
		Service:  svc.Identity,
		Adapters: svc.SchemaAdapters,
	})
	if err != nil {
		return nil, nil, err
	}

	codecRes, err := resolve.Codec(e.store, resolve.CodecInputs{
		Override: svc.CodecOverride,
		Explicit: svc.Codec,
		Constraint: codec.Constraint{
			Service:    svc.Identity,
			Structured: schemaRes.OK,
			Streaming:  streaming,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	if codecRes.OK && codecRes.Value.New != nil {
		instance := codecRes.Value.New()
		if err := instance.Setup(ctx); err != nil {
			return nil, nil, fmt.Errorf("codec setup: %w", err)
		}
		c.codec = instance
		torndown := false
		c.done = func(ctx context.Context) {
			if torndown {
				return
			}
			torndown = true
			if terr := instance.Teardown(ctx); terr != nil {
				log.ErrorErr(log.CatEngine, "codec teardown failed", terr,
					"identity", req.IdentityLabel)
			}
		}
		if err := instance.Encode(ctx, req); err != nil {
			c.done(ctx)
			return nil, nil, fmt.Errorf("codec encode: %w", err)
		}
	}

	// schema resolved but no codec attached it
	if req.OutputSchema == nil && schemaRes.OK {
		req.OutputSchema = schemaRes.Value
	}

	client, err := e.resolveClient(svc)
	if err != nil {
		c.done(ctx)
		return nil, nil, err
	}
	return c, client, nil
}

func checkRequiredContext(svc *ServiceSpec, callCtx ContextMap) error {
	merged := make(ContextMap, len(svc.Context)+len(callCtx))
	for k, v := range svc.Context {
		merged[k] = v
	}
	for k, v := range callCtx {
		merged[k] = v
	}

	var missing []string
	for _, key := range svc.RequiredContext {
		if v, ok := merged[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingContextError{Keys: missing}
	}
	return nil
}

func (e *Executor) buildRequest(svc *ServiceSpec) (*dispatch.Request, error) {
	planRes, err := resolve.PromptPlan(e.store, resolve.PromptPlanInputs{
		Explicit: svc.Plan,
		Service:  svc.Identity,
	})
	if err != nil {
		return nil, err
	}

	req := &dispatch.Request{
		CorrelationID: uuid.NewString(),
		IdentityLabel: svc.Identity.String(),
	}
	if planRes.OK {
		req.Instruction = planRes.Value.Instruction
		req.Messages = planRes.Value.Messages()
	}
	if req.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrBuildRequest, svc.Identity.String())
	}
	return req, nil
}

// resolveClient tries, in order: explicit instance, registry name,
// provider slug, construction from config, the set default.
func (e *Executor) resolveClient(svc *ServiceSpec) (*dispatch.Client, error) {
	if svc.Client != nil {
		return svc.Client, nil
	}
	if svc.ClientName != "" {
		client, err := e.clients.Get(svc.ClientName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
		}
		return client, nil
	}
	if svc.Provider != "" {
		client, err := e.clients.ByProvider(svc.Provider)
		if err == nil {
			return client, nil
		}
		// fall through to construction when a config is present
		if svc.ClientConfig == nil {
			return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
		}
	}
	if svc.ClientConfig != nil {
		provider := svc.ClientConfig.Provider
		if provider == "" {
			provider = svc.Provider
		}
		backend, err := dispatch.NewBackend(provider, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
		}
		return dispatch.NewClient(*svc.ClientConfig, backend), nil
	}
	client, err := e.clients.Default()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
	}
	return client, nil
}

func tagResponse(resp *dispatch.Response, req *dispatch.Request) {
	if resp.CorrelationID == "" {
		resp.CorrelationID = req.CorrelationID
	}
	if resp.IdentityLabel == "" {
		resp.IdentityLabel = req.IdentityLabel
	}
}

func softResponse(req *dispatch.Request, err error, attempts int) *dispatch.Response {
	return &dispatch.Response{
		CorrelationID: req.CorrelationID,
		IdentityLabel: req.IdentityLabel,
		ErrorMeta: &dispatch.ErrorMeta{
			Message:  err.Error(),
			Attempts: attempts,
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

// service registration

// RegisterService records a service spec in the service domain of the
// given store.
func RegisterService(store *registry.Store, svc *ServiceSpec) (identity.Identity, error) {
	return store.Register(registry.Record{
		Component: svc,
		Identity:  svc.Identity,
	})
}
