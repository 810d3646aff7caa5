package codec

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/schema"
)

// JSON decodes model output into a value of the target's type. Encode
// attaches the target's generated schema to the request.
type JSON struct {
	// Target is a value (or pointer) of the type the model must produce.
	Target any

	// Adapters rewrite the generated schema before it is attached.
	Adapters []schema.Adapter

	generator *schema.Generator
	buf       strings.Builder
}

// NewJSON builds a per-call JSON codec for the target type.
func NewJSON(target any, adapters ...schema.Adapter) *JSON {
	return &JSON{Target: target, Adapters: adapters, generator: schema.NewGenerator()}
}

func (c *JSON) Setup(context.Context) error { return nil }

func (c *JSON) Encode(_ context.Context, req *dispatch.Request) error {
	if c.Target == nil {
		return nil
	}
	if c.generator == nil {
		c.generator = schema.NewGenerator()
	}
	shape, err := c.generator.ForValue(c.Target)
	if err != nil {
		return err
	}
	shape, err = schema.Apply(shape, c.Adapters...)
	if err != nil {
		return err
	}
	req.OutputSchema = shape
	return nil
}

func (c *JSON) Decode(_ context.Context, resp *dispatch.Response) error {
	out := strings.TrimSpace(resp.Output)
	if out == "" {
		return &DecodeError{Message: "empty output", Retriable: true}
	}
	out = stripFences(out)

	decoded, err := c.unmarshalTarget(out)
	if err != nil {
		return &DecodeError{Message: "output is not valid JSON for the target type", Retriable: true, Cause: err}
	}
	resp.Decoded = decoded
	return nil
}

// DecodeChunk accumulates deltas. After the stream closes the engine
// builds the response from Buffered and decodes it with Decode.
func (c *JSON) DecodeChunk(_ context.Context, chunk dispatch.Chunk) error {
	c.buf.WriteString(chunk.Delta)
	return nil
}

// Buffered returns the text accumulated from streamed chunks.
func (c *JSON) Buffered() string { return c.buf.String() }

func (c *JSON) Teardown(context.Context) error { return nil }

func (c *JSON) unmarshalTarget(out string) (any, error) {
	if c.Target == nil {
		var decoded any
		if err := json.Unmarshal([]byte(out), &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}

	t := reflect.TypeOf(c.Target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	value := reflect.New(t)
	if err := json.Unmarshal([]byte(out), value.Interface()); err != nil {
		return nil, err
	}
	return value.Elem().Interface(), nil
}

// stripFences drops a surrounding markdown code fence, which models emit
// around JSON despite instructions not to.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
