package dispatch

import "encoding/json"

// Message roles used in request content.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged content segment of a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDecl declares a tool the model may call.
type ToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Request is the normalized, provider-agnostic request envelope built by
// the execution engine and handed to a client.
type Request struct {
	// CorrelationID ties the request to its response and events.
	CorrelationID string `json:"correlation_id"`

	// IdentityLabel is the canonical identity string of the calling service.
	IdentityLabel string `json:"identity,omitempty"`

	// Instruction is the developer/system content.
	Instruction string `json:"instruction,omitempty"`

	// Messages carries the user content and any extra role-tagged segments.
	Messages []Message `json:"messages,omitempty"`

	// Tools lists the tools the model may call.
	Tools []ToolDecl `json:"tools,omitempty"`

	// OutputSchema is the structured-output hint attached by a codec's
	// encode hook. Nil when the call has no structured output.
	OutputSchema map[string]any `json:"output_schema,omitempty"`

	// Metadata is pass-through provider metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Empty reports whether the request has no instruction and no messages.
func (r *Request) Empty() bool {
	return r.Instruction == "" && len(r.Messages) == 0
}

// ToolCall is one tool invocation returned by the model.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Usage holds token accounting for a call.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// ErrorMeta carries failure details on a soft-failure response.
type ErrorMeta struct {
	Message   string `json:"message"`
	Attempts  int    `json:"attempts"`
	Retriable bool   `json:"retriable"`
}

// Response is the normalized response envelope returned by a client.
type Response struct {
	CorrelationID string `json:"correlation_id"`
	IdentityLabel string `json:"identity,omitempty"`

	// Output is the raw text output of the model.
	Output string `json:"output,omitempty"`

	// Decoded is the structured value produced by the codec's decode hook.
	Decoded any `json:"-"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`

	// Provider and Model identify the backend that served the call.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// ErrorMeta is non-nil only on a soft-failure response.
	ErrorMeta *ErrorMeta `json:"error,omitempty"`

	// Raw is the unparsed provider payload, for debugging.
	Raw json.RawMessage `json:"-"`
}

// Failed reports whether this is a soft-failure response.
func (r *Response) Failed() bool {
	return r.ErrorMeta != nil
}

// Chunk is one streamed fragment of a response. A clean stream ends with
// a chunk whose Final flag is set and then a channel close; a stream that
// closes without a Final chunk was cut off. A provider that fails
// mid-stream reports it in-band with Err on the last chunk it sends.
type Chunk struct {
	Index int             `json:"index"`
	Delta string          `json:"delta,omitempty"`
	Raw   json.RawMessage `json:"-"`
	Final bool            `json:"final,omitempty"`
	Err   error           `json:"-"`
}
