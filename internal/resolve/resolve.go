// Package resolve implements the precedence-based resolution pipeline.
//
// Each resolver walks an ordered list of branches, takes the first one
// that yields a value, and returns the full branch history alongside the
// value so a trace can show why that value was chosen. Resolvers never
// mutate the store; they are pure functions of their inputs and the
// current registry contents.
package resolve

import (
	"sort"

	"github.com/zjrosen/relay/internal/codec"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/prompt"
	"github.com/zjrosen/relay/internal/registry"
	"github.com/zjrosen/relay/internal/schema"
)

// Branch records one candidate considered during resolution.
type Branch struct {
	Name     string
	Taken    bool
	Reason   string
	Identity identity.Identity
}

// Result carries the resolved value plus the ordered branch history.
// OK is false when every branch came up empty; callers decide whether
// that is an error.
type Result[T any] struct {
	Value    T
	OK       bool
	Selected string
	Branches []Branch
}

func (r *Result[T]) take(name, reason string, id identity.Identity, value T) {
	r.Branches = append(r.Branches, Branch{Name: name, Taken: true, Reason: reason, Identity: id})
	r.Selected = name
	r.Value = value
	r.OK = true
}

func (r *Result[T]) skip(name, reason string) {
	r.Branches = append(r.Branches, Branch{Name: name, Reason: reason})
}

// SchemaInputs feeds Schema. Override and Default are target values (or
// schema.Provider implementations) whose generated shape becomes the
// payload; the registry branch looks up the service identity with its
// domain swapped to "schema".
type SchemaInputs struct {
	Override any
	Default  any
	Service  identity.Identity
	Adapters []schema.Adapter
}

// Schema resolves the structured-output payload for a call:
// override, then class default, then registry match, then none.
// Adapter failures propagate; they are programmer errors.
func Schema(store *registry.Store, in SchemaInputs) (Result[schema.Payload], error) {
	var res Result[schema.Payload]

	if in.Override != nil {
		payload, err := buildPayload(in.Override, in.Adapters)
		if err != nil {
			return res, err
		}
		res.take("override", "explicit schema override", identity.Identity{}, payload)
		return res, nil
	}
	res.skip("override", "no override supplied")

	if in.Default != nil {
		payload, err := buildPayload(in.Default, in.Adapters)
		if err != nil {
			return res, err
		}
		res.take("default", "service-declared output type", identity.Identity{}, payload)
		return res, nil
	}
	res.skip("default", "service declares no output type")

	if !in.Service.IsZero() {
		schemaID, err := in.Service.WithDomain(registry.DomainSchema)
		if err != nil {
			return res, err
		}
		if component, ok := store.TryGet(schemaID); ok {
			payload, err := buildPayload(component, in.Adapters)
			if err != nil {
				return res, err
			}
			res.take("registry", "schema registered under the service identity", schemaID, payload)
			return res, nil
		}
		res.skip("registry", "no schema registered under "+schemaID.String())
	} else {
		res.skip("registry", "no service identity")
	}

	log.Debug(log.CatResolve, "no schema resolved", "service", in.Service.String())
	return res, nil
}

func buildPayload(target any, adapters []schema.Adapter) (schema.Payload, error) {
	shape, err := schema.Generate(target)
	if err != nil {
		return nil, err
	}
	return schema.Apply(shape, adapters...)
}

// CodecInputs feeds Codec. Override beats Explicit beats the candidate
// pool; the pool is the supplied candidates plus every registry entry in
// the codec domain, filtered by the constraint.
type CodecInputs struct {
	Override   *codec.Descriptor
	Explicit   *codec.Descriptor
	Candidates []codec.Descriptor
	Constraint codec.Constraint
}

// Codec resolves the codec descriptor for a call. When several candidates
// accept the constraint, the highest priority wins and the identity label
// breaks ties, so the choice is reproducible.
func Codec(store *registry.Store, in CodecInputs) (Result[*codec.Descriptor], error) {
	var res Result[*codec.Descriptor]

	if in.Override != nil {
		res.take("override", "explicit codec override", in.Override.Identity, in.Override)
		return res, nil
	}
	res.skip("override", "no override supplied")

	if in.Explicit != nil {
		res.take("explicit", "codec declared on the service", in.Explicit.Identity, in.Explicit)
		return res, nil
	}
	res.skip("explicit", "service declares no codec")

	pool := make([]codec.Descriptor, 0, len(in.Candidates))
	pool = append(pool, in.Candidates...)
	pool = append(pool, registeredCodecs(store)...)

	var matches []codec.Descriptor
	for _, d := range pool {
		if d.Accepts(in.Constraint) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		res.skip("candidates", "no candidate accepts the constraint")
		return res, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].Identity.String() < matches[j].Identity.String()
	})

	best := matches[0]
	res.take("candidates", "best of matching candidates", best.Identity, &best)
	return res, nil
}

func registeredCodecs(store *registry.Store) []codec.Descriptor {
	reg, err := store.Domain(registry.DomainCodec)
	if err != nil {
		return nil
	}
	var out []codec.Descriptor
	for _, entry := range reg.Snapshot() {
		if d, ok := entry.Component.(codec.Descriptor); ok {
			out = append(out, d)
			continue
		}
		if d, ok := entry.Component.(*codec.Descriptor); ok {
			out = append(out, *d)
		}
	}
	return out
}

// PromptPlanInputs feeds PromptPlan.
type PromptPlanInputs struct {
	Explicit *prompt.Plan
	Service  identity.Identity
}

// PromptPlan resolves the prompt plan for a call:
// explicit plan, then registry section matching the service identity.
func PromptPlan(store *registry.Store, in PromptPlanInputs) (Result[*prompt.Plan], error) {
	var res Result[*prompt.Plan]

	if in.Explicit != nil {
		res.take("explicit", "plan supplied by the caller", identity.Identity{}, in.Explicit)
		return res, nil
	}
	res.skip("explicit", "no plan supplied")

	if !in.Service.IsZero() {
		sectionID, err := in.Service.WithDomain(registry.DomainPromptSection)
		if err != nil {
			return res, err
		}
		if component, ok := store.TryGet(sectionID); ok {
			if plan, isPlan := component.(*prompt.Plan); isPlan {
				res.take("registry", "prompt section registered under the service identity", sectionID, plan)
				return res, nil
			}
			res.skip("registry", "registered component is not a prompt plan")
			return res, nil
		}
		res.skip("registry", "no prompt section registered under "+sectionID.String())
	} else {
		res.skip("registry", "no service identity")
	}

	return res, nil
}
