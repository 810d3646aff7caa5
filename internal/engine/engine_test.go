package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/codec"
	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/emitter"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/prompt"
	"github.com/zjrosen/relay/internal/registry"
)

type scriptedResult struct {
	resp *dispatch.Response
	err  error
}

type scriptedCaller struct {
	calls   int
	results []scriptedResult
}

func (s *scriptedCaller) Call(_ context.Context, _ *dispatch.Request, _ time.Duration) (*dispatch.Response, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	res := s.results[i]
	if res.resp != nil {
		cp := *res.resp
		return &cp, res.err
	}
	return nil, res.err
}

func scriptedClient(results ...scriptedResult) (*scriptedCaller, *dispatch.Client) {
	caller := &scriptedCaller{results: results}
	backend := dispatch.Backend{
		Slug:           "scripted",
		DefaultModel:   "scripted-1",
		DefaultTimeout: time.Second,
		Caller:         caller,
	}
	return caller, dispatch.NewClient(dispatch.ClientConfig{Name: "scripted", MaxAttempts: 1}, backend)
}

func triageID(t *testing.T) identity.Identity {
	t.Helper()
	return identity.MustNew(registry.DomainService, "acme", "default", "triage")
}

func triageSpec(t *testing.T, client *dispatch.Client) *ServiceSpec {
	t.Helper()
	return &ServiceSpec{
		Identity: triageID(t),
		Plan:     &prompt.Plan{Name: "triage", Instruction: "triage the report", Message: "report body"},
		Client:   client,
	}
}

func newExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *emitter.Emitter, *[]time.Duration) {
	t.Helper()
	em := emitter.New()
	t.Cleanup(em.Close)

	var sleeps []time.Duration
	opts = append(opts, withSleeper(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))
	return New(registry.NewStore(), dispatch.NewClientSet(), em, opts...), em, &sleeps
}

func TestExecute_HappyPath(t *testing.T) {
	caller, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "done"}})
	e, _, _ := newExecutor(t)

	resp, err := e.Execute(context.Background(), triageSpec(t, client), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Output)
	assert.Equal(t, triageID(t).String(), resp.IdentityLabel)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, 1, caller.calls)
}

func TestExecute_MissingContextFailsFast(t *testing.T) {
	caller, client := scriptedClient(scriptedResult{resp: &dispatch.Response{}})
	e, _, _ := newExecutor(t)

	svc := triageSpec(t, client)
	svc.RequiredContext = []string{"tenant", "user", "region"}
	svc.Context = ContextMap{"tenant": "t1", "region": nil}

	_, err := e.Execute(context.Background(), svc, ContextMap{})
	var missing *MissingContextError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"region", "user"}, missing.Keys)
	assert.Zero(t, caller.calls)
}

func TestExecute_CallContextOverridesInstanceContext(t *testing.T) {
	_, client := scriptedClient(scriptedResult{resp: &dispatch.Response{}})
	e, _, _ := newExecutor(t)

	svc := triageSpec(t, client)
	svc.RequiredContext = []string{"tenant"}
	svc.Context = ContextMap{"tenant": nil}

	_, err := e.Execute(context.Background(), svc, ContextMap{"tenant": "t1"})
	require.NoError(t, err)
}

func TestExecute_EmptyPromptFailsBuild(t *testing.T) {
	_, client := scriptedClient(scriptedResult{resp: &dispatch.Response{}})
	e, _, _ := newExecutor(t)

	svc := triageSpec(t, client)
	svc.Plan = nil // nothing registered either

	_, err := e.Execute(context.Background(), svc, nil)
	require.ErrorIs(t, err, ErrBuildRequest)
}

func TestExecute_PlanFromRegistry(t *testing.T) {
	_, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "ok"}})
	em := emitter.New()
	t.Cleanup(em.Close)
	store := registry.NewStore()

	sectionID, err := triageID(t).WithDomain(registry.DomainPromptSection)
	require.NoError(t, err)
	_, err = store.Register(registry.Record{
		Component: &prompt.Plan{Name: "triage", Instruction: "from registry"},
		Identity:  sectionID,
	})
	require.NoError(t, err)

	e := New(store, dispatch.NewClientSet(), em)
	svc := triageSpec(t, client)
	svc.Plan = nil

	resp, err := e.Execute(context.Background(), svc, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Output)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	caller, client := scriptedClient(
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 500, Message: "boom"}},
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 500, Message: "boom"}},
		scriptedResult{resp: &dispatch.Response{Output: "third"}},
	)
	e, _, sleeps := newExecutor(t, WithRetry(3, dispatch.Backoff{
		Initial: 100 * time.Millisecond, Factor: 2, Jitter: 0, Max: time.Second,
	}))

	resp, err := e.Execute(context.Background(), triageSpec(t, client), nil)
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Output)
	assert.Equal(t, 3, caller.calls)

	require.Len(t, *sleeps, 2)
	assert.LessOrEqual(t, (*sleeps)[0], (*sleeps)[1])
	for _, d := range *sleeps {
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestExecute_ExhaustedAttemptsFails(t *testing.T) {
	caller, client := scriptedClient(
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 500, Message: "down"}},
	)
	e, _, _ := newExecutor(t, WithRetry(2, dispatch.DefaultBackoff()))

	_, err := e.Execute(context.Background(), triageSpec(t, client), nil)
	require.Error(t, err)
	assert.Equal(t, 2, caller.calls)
}

func TestExecute_SoftFailReturnsErrorMeta(t *testing.T) {
	_, client := scriptedClient(
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 503, Message: "overloaded"}},
	)
	e, _, _ := newExecutor(t, WithRetry(2, dispatch.DefaultBackoff()))

	svc := triageSpec(t, client)
	svc.SoftFail = true

	resp, err := e.Execute(context.Background(), svc, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Output)
	require.NotNil(t, resp.ErrorMeta)
	assert.Equal(t, 2, resp.ErrorMeta.Attempts)
	assert.Contains(t, resp.ErrorMeta.Message, "overloaded")
}

type hookCodec struct {
	setups    int
	encodes   int
	decodes   int
	teardowns int
	decodeErr error
}

func (h *hookCodec) Setup(context.Context) error { h.setups++; return nil }

func (h *hookCodec) Encode(_ context.Context, req *dispatch.Request) error {
	h.encodes++
	req.OutputSchema = map[string]any{"type": "object"}
	return nil
}

func (h *hookCodec) Decode(_ context.Context, resp *dispatch.Response) error {
	h.decodes++
	if h.decodeErr != nil {
		return h.decodeErr
	}
	resp.Decoded = "decoded:" + resp.Output
	return nil
}

func (h *hookCodec) DecodeChunk(context.Context, dispatch.Chunk) error { return nil }

func (h *hookCodec) Teardown(context.Context) error { h.teardowns++; return nil }

func hookedSpec(t *testing.T, client *dispatch.Client, h *hookCodec) *ServiceSpec {
	t.Helper()
	svc := triageSpec(t, client)
	svc.Codec = &codec.Descriptor{
		Identity: identity.MustNew(registry.DomainCodec, "acme", "default", "hook"),
		New:      func() codec.Codec { return h },
	}
	return svc
}

func TestExecute_CodecHooksRunInOrder(t *testing.T) {
	_, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "raw"}})
	e, _, _ := newExecutor(t)

	h := &hookCodec{}
	resp, err := e.Execute(context.Background(), hookedSpec(t, client, h), nil)
	require.NoError(t, err)

	assert.Equal(t, "decoded:raw", resp.Decoded)
	assert.Equal(t, 1, h.setups)
	assert.Equal(t, 1, h.encodes)
	assert.Equal(t, 1, h.decodes)
	assert.Equal(t, 1, h.teardowns)
}

func TestExecute_TeardownRunsOnFailure(t *testing.T) {
	_, client := scriptedClient(
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 500, Message: "down"}},
	)
	e, _, _ := newExecutor(t)

	h := &hookCodec{}
	_, err := e.Execute(context.Background(), hookedSpec(t, client, h), nil)
	require.Error(t, err)
	assert.Equal(t, 1, h.teardowns)
}

func TestExecute_NonRetriableDecodeStopsRetrying(t *testing.T) {
	caller, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "bad"}})
	e, _, _ := newExecutor(t, WithRetry(3, dispatch.DefaultBackoff()))

	h := &hookCodec{decodeErr: &codec.DecodeError{Message: "schema violation", Retriable: false}}
	_, err := e.Execute(context.Background(), hookedSpec(t, client, h), nil)

	var decodeErr *codec.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 1, caller.calls)
}

func TestExecute_RetriableDecodeConsumesAttempts(t *testing.T) {
	caller, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "garbled"}})
	e, _, _ := newExecutor(t, WithRetry(2, dispatch.DefaultBackoff()))

	h := &hookCodec{decodeErr: &codec.DecodeError{Message: "not json", Retriable: true}}
	_, err := e.Execute(context.Background(), hookedSpec(t, client, h), nil)
	require.Error(t, err)
	assert.Equal(t, 2, caller.calls)
	assert.Equal(t, 2, h.decodes)
	assert.Equal(t, 1, h.teardowns)
}

type triageReport struct {
	Severity string `json:"severity"`
}

func TestExecute_SchemaAttachedWithoutCodec(t *testing.T) {
	caller, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "{}"}})
	e, _, _ := newExecutor(t)

	svc := triageSpec(t, client)
	svc.OutputType = triageReport{}

	_, err := e.Execute(context.Background(), svc, nil)
	require.NoError(t, err)
	require.Equal(t, 1, caller.calls)
}

func TestExecute_EmitsRequestAndResponseEvents(t *testing.T) {
	_, client := scriptedClient(scriptedResult{resp: &dispatch.Response{Output: "ok"}})
	e, em, _ := newExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := em.Subscribe(ctx)

	_, err := e.Execute(context.Background(), triageSpec(t, client), nil)
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, emitter.KindRequest, first.Payload.Kind)
	second := <-events
	assert.Equal(t, emitter.KindResponse, second.Payload.Kind)
	assert.Equal(t, first.Payload.CorrelationID, second.Payload.CorrelationID)
}

func TestExecute_EmitsFailureEvent(t *testing.T) {
	_, client := scriptedClient(
		scriptedResult{err: &dispatch.ProviderError{StatusCode: 500, Message: "down"}},
	)
	e, em, _ := newExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := em.Subscribe(ctx)

	_, err := e.Execute(context.Background(), triageSpec(t, client), nil)
	require.Error(t, err)

	<-events // request
	failure := <-events
	assert.Equal(t, emitter.KindFailure, failure.Payload.Kind)
	assert.Equal(t, 1, failure.Payload.Attempts)
	assert.Contains(t, failure.Payload.Err, "down")
}

func TestResolveClient_Order(t *testing.T) {
	em := emitter.New()
	t.Cleanup(em.Close)

	_, named := scriptedClient(scriptedResult{resp: &dispatch.Response{}})
	set := dispatch.NewClientSet()
	require.NoError(t, set.Add(named))

	e := New(registry.NewStore(), set, em)

	_, explicit := scriptedClient(scriptedResult{resp: &dispatch.Response{}})
	got, err := e.resolveClient(&ServiceSpec{Client: explicit})
	require.NoError(t, err)
	assert.Same(t, explicit, got)

	got, err = e.resolveClient(&ServiceSpec{ClientName: "scripted"})
	require.NoError(t, err)
	assert.Same(t, named, got)

	got, err = e.resolveClient(&ServiceSpec{Provider: "scripted"})
	require.NoError(t, err)
	assert.Same(t, named, got)

	// default fallthrough
	got, err = e.resolveClient(&ServiceSpec{})
	require.NoError(t, err)
	assert.Same(t, named, got)

	_, err = e.resolveClient(&ServiceSpec{ClientName: "missing"})
	require.ErrorIs(t, err, ErrNoClient)
}

func TestResolveClient_NoClients(t *testing.T) {
	e, _, _ := newExecutor(t)
	_, err := e.resolveClient(&ServiceSpec{})
	require.ErrorIs(t, err, ErrNoClient)
}
