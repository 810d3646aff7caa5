package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
)

// Well-known registry domains.
const (
	DomainCodec         = "codec"
	DomainSchema        = "schema"
	DomainService       = "service"
	DomainPromptSection = "prompt_section"
	DomainProvider      = "provider"
)

// Registry errors
var (
	ErrFrozen       = errors.New("registry is frozen")
	ErrNotFound     = errors.New("component not found")
	ErrNilComponent = errors.New("component cannot be nil")
	ErrEmptyDomain  = errors.New("domain cannot be empty")
)

// CollisionError reports two distinct components registered under the
// same identity.
type CollisionError struct {
	Identity identity.Identity
	Existing any
	Incoming any
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("identity collision on %s: %T already registered, %T rejected",
		e.Identity, e.Existing, e.Incoming)
}

// Record is the unit routed into a store: a component plus its resolved
// identity and derivation metadata.
type Record struct {
	Component any
	Identity  identity.Identity
	Meta      identity.Meta

	// Replace overwrites an existing entry instead of raising a collision.
	Replace bool
	// Strict turns a tolerated duplicate into a collision error.
	Strict bool
}

// Entry is a read-only snapshot row.
type Entry struct {
	Identity  identity.Identity
	Component any
}

// Registry is the thread-safe identity -> component store for one domain.
type Registry struct {
	domain  string
	mu      sync.Mutex
	entries map[identity.Identity]any
	frozen  bool
}

func newRegistry(domain string) *Registry {
	return &Registry{
		domain:  domain,
		entries: make(map[identity.Identity]any),
	}
}

// Domain returns the domain this registry is scoped to.
func (r *Registry) Domain() string { return r.domain }

// Register stores rec's component under its identity. The returned
// identity is the one actually used, which differs from rec.Identity only
// when collision renaming appended a numeric suffix.
//
// Semantics on an occupied identity: the same component is a silent no-op;
// Replace overwrites; a derived identity is renamed with a numeric suffix;
// otherwise Strict raises a collision and non-strict logs and ignores.
func (r *Registry) Register(rec Record) (identity.Identity, error) {
	if rec.Component == nil {
		return identity.Identity{}, ErrNilComponent
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return identity.Identity{}, fmt.Errorf("%w: domain %q", ErrFrozen, r.domain)
	}

	id := rec.Identity
	existing, occupied := r.entries[id]
	if !occupied {
		r.entries[id] = rec.Component
		return id, nil
	}

	if sameComponent(existing, rec.Component) {
		// Idempotent re-registration (re-import safety).
		return id, nil
	}
	if rec.Replace {
		r.entries[id] = rec.Component
		return id, nil
	}
	if rec.Meta.Derived() {
		renamed, err := r.renameLocked(id, rec.Component)
		if err != nil {
			return identity.Identity{}, err
		}
		log.Warn(log.CatRegistry, "derived identity collision, renamed",
			"identity", id.String(), "renamed", renamed.String())
		r.entries[renamed] = rec.Component
		return renamed, nil
	}
	if rec.Strict {
		return identity.Identity{}, &CollisionError{Identity: id, Existing: existing, Incoming: rec.Component}
	}

	log.Warn(log.CatRegistry, "duplicate registration ignored",
		"identity", id.String(), "existing", fmt.Sprintf("%T", existing))
	return id, nil
}

// renameLocked finds the first vacant numeric-suffix variant of id.
// The suffix strictly increases, so the loop terminates.
func (r *Registry) renameLocked(id identity.Identity, component any) (identity.Identity, error) {
	base := id.Name()
	for n := 2; ; n++ {
		candidate, err := id.WithName(fmt.Sprintf("%s-%d", base, n))
		if err != nil {
			return identity.Identity{}, err
		}
		held, occupied := r.entries[candidate]
		if !occupied {
			return candidate, nil
		}
		if sameComponent(held, component) {
			return candidate, nil
		}
	}
}

// Get returns the component registered under id.
func (r *Registry) Get(id identity.Identity) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	component, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in domain %q", ErrNotFound, id, r.domain)
	}
	return component, nil
}

// TryGet is Get without the failure: a miss returns (nil, false).
func (r *Registry) TryGet(id identity.Identity) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	component, ok := r.entries[id]
	return component, ok
}

// Freeze is a one-way transition; all future Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the registry contents ordered by identity label.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.entries))
	for id, component := range r.entries {
		entries = append(entries, Entry{Identity: id, Component: component})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity.String() < entries[j].Identity.String()
	})
	return entries
}

// sameComponent reports whether a and b are the same registered component.
// Comparable values compare by ==; funcs, maps, slices and channels compare
// by referenced address.
func sameComponent(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if ta.Comparable() {
		return a == b
	}
	switch ta.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Ptr, reflect.UnsafePointer:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	default:
		return false
	}
}
