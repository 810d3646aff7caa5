package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/schema"
)

type summary struct {
	Title  string   `json:"title"`
	Points []string `json:"points"`
}

func TestJSON_EncodeAttachesSchema(t *testing.T) {
	c := NewJSON(summary{})
	req := &dispatch.Request{Instruction: "summarize"}

	require.NoError(t, c.Encode(context.Background(), req))
	require.NotNil(t, req.OutputSchema)
	assert.Equal(t, "object", req.OutputSchema["type"])
	props := req.OutputSchema["properties"].(schema.Payload)
	assert.Contains(t, props, "title")
	assert.Contains(t, props, "points")
}

func TestJSON_EncodeRunsAdapters(t *testing.T) {
	c := NewJSON(summary{}, schema.StrictObjects())
	req := &dispatch.Request{}

	require.NoError(t, c.Encode(context.Background(), req))
	assert.Equal(t, false, req.OutputSchema["additionalProperties"])
}

func TestJSON_DecodePopulatesTypedValue(t *testing.T) {
	c := NewJSON(summary{})
	resp := &dispatch.Response{Output: `{"title":"Q3","points":["a","b"]}`}

	require.NoError(t, c.Decode(context.Background(), resp))
	decoded, ok := resp.Decoded.(summary)
	require.True(t, ok)
	assert.Equal(t, "Q3", decoded.Title)
	assert.Equal(t, []string{"a", "b"}, decoded.Points)
}

func TestJSON_DecodeStripsCodeFences(t *testing.T) {
	c := NewJSON(summary{})
	resp := &dispatch.Response{Output: "```json\n{\"title\":\"fenced\",\"points\":[]}\n```"}

	require.NoError(t, c.Decode(context.Background(), resp))
	assert.Equal(t, "fenced", resp.Decoded.(summary).Title)
}

func TestJSON_DecodeInvalidIsRetriable(t *testing.T) {
	c := NewJSON(summary{})
	resp := &dispatch.Response{Output: "not json at all"}

	err := c.Decode(context.Background(), resp)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.True(t, decodeErr.Retriable)
}

func TestJSON_DecodeEmptyOutput(t *testing.T) {
	c := NewJSON(summary{})
	err := c.Decode(context.Background(), &dispatch.Response{Output: "   "})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.True(t, decodeErr.Retriable)
}

// The built-in codecs accumulate streams themselves, so the engine uses
// their buffer as the stream's output.
var (
	_ Accumulator = (*JSON)(nil)
	_ Accumulator = (*Text)(nil)
)

func TestJSON_DecodeChunkAccumulates(t *testing.T) {
	c := NewJSON(summary{})
	require.NoError(t, c.DecodeChunk(context.Background(), dispatch.Chunk{Delta: `{"title":`}))
	require.NoError(t, c.DecodeChunk(context.Background(), dispatch.Chunk{Delta: `"s","points":[]}`, Final: true}))
	assert.Equal(t, `{"title":"s","points":[]}`, c.Buffered())
}

func TestJSON_UntypedTarget(t *testing.T) {
	c := &JSON{}
	resp := &dispatch.Response{Output: `{"any":"shape"}`}
	require.NoError(t, c.Decode(context.Background(), resp))
	decoded := resp.Decoded.(map[string]any)
	assert.Equal(t, "shape", decoded["any"])
}

func TestText_DecodePassthrough(t *testing.T) {
	c := NewText()
	req := &dispatch.Request{}
	require.NoError(t, c.Encode(context.Background(), req))
	assert.Nil(t, req.OutputSchema)

	resp := &dispatch.Response{Output: "plain text"}
	require.NoError(t, c.Decode(context.Background(), resp))
	assert.Equal(t, "plain text", resp.Decoded)
}

func TestDescriptor_AcceptsNilPredicate(t *testing.T) {
	d := Descriptor{Identity: identity.MustNew("codec", "relay", "default", "text")}
	assert.True(t, d.Accepts(Constraint{Structured: true}))
}

func TestDescriptor_SupportsPredicate(t *testing.T) {
	d := Descriptor{
		Identity: identity.MustNew("codec", "relay", "default", "json"),
		Supports: func(c Constraint) bool { return c.Structured },
	}
	assert.True(t, d.Accepts(Constraint{Structured: true}))
	assert.False(t, d.Accepts(Constraint{Structured: false}))
}
