package codec

import (
	"context"
	"strings"

	"github.com/zjrosen/relay/internal/dispatch"
)

// Text passes model output through untouched. Decoded is the raw output
// string; no schema is attached on encode.
type Text struct {
	Base
	buf strings.Builder
}

func NewText() *Text { return &Text{} }

func (c *Text) Decode(_ context.Context, resp *dispatch.Response) error {
	resp.Decoded = resp.Output
	return nil
}

func (c *Text) DecodeChunk(_ context.Context, chunk dispatch.Chunk) error {
	c.buf.WriteString(chunk.Delta)
	return nil
}

func (c *Text) Buffered() string { return c.buf.String() }
