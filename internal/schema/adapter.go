package schema

import "fmt"

// Adapter rewrites a generated shape into a provider dialect. Adapter
// failures are programmer errors and propagate; there is no fallback.
type Adapter interface {
	Name() string
	Adapt(Payload) (Payload, error)
}

// Apply runs adapters in order over shape, feeding each the previous
// output. The input payload is never mutated.
func Apply(shape Payload, adapters ...Adapter) (Payload, error) {
	out := clonePayload(shape)
	for _, a := range adapters {
		next, err := a.Adapt(out)
		if err != nil {
			return nil, fmt.Errorf("schema adapter %q: %w", a.Name(), err)
		}
		out = next
	}
	return out, nil
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		if nested, ok := v.(Payload); ok {
			out[k] = clonePayload(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// AdapterFunc adapts a plain function into an Adapter.
type AdapterFunc struct {
	Label string
	Fn    func(Payload) (Payload, error)
}

func (a AdapterFunc) Name() string { return a.Label }

func (a AdapterFunc) Adapt(p Payload) (Payload, error) { return a.Fn(p) }

// StrictObjects disallows undeclared properties on every object node.
// Most structured-output backends require this.
func StrictObjects() Adapter {
	return AdapterFunc{Label: "strict-objects", Fn: func(p Payload) (Payload, error) {
		strictify(p)
		return p, nil
	}}
}

func strictify(p Payload) {
	if p["type"] == "object" {
		if _, ok := p["additionalProperties"]; !ok {
			p["additionalProperties"] = false
		}
	}
	for _, v := range p {
		if nested, ok := v.(Payload); ok {
			strictify(nested)
		}
	}
}

// EnvelopeAs wraps the shape under a named top-level key, for backends
// that expect `{"name": ..., "schema": {...}}` envelopes.
func EnvelopeAs(name string) Adapter {
	return AdapterFunc{Label: "envelope", Fn: func(p Payload) (Payload, error) {
		return Payload{"name": name, "schema": p}, nil
	}}
}
