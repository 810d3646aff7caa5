package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Identity errors
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidPart     = errors.New("invalid identity part")
)

// maxPartLen is the maximum length of a single identity part.
const maxPartLen = 128

// Identity is the immutable, validated 4-part key identifying a registrable
// component. Equality is by value; the zero Identity is invalid.
type Identity struct {
	domain    string
	namespace string
	group     string
	name      string
}

// New constructs a validated Identity from its four parts.
func New(domain, namespace, group, name string) (Identity, error) {
	for _, part := range []struct {
		label string
		value string
	}{
		{"domain", domain},
		{"namespace", namespace},
		{"group", group},
		{"name", name},
	} {
		if err := ValidatePart(part.value); err != nil {
			return Identity{}, fmt.Errorf("%s %q: %w", part.label, part.value, err)
		}
	}
	return Identity{domain: domain, namespace: namespace, group: group, name: name}, nil
}

// MustNew is New that panics on validation failure. Intended for
// compile-time-constant identities in registration call sites and tests.
func MustNew(domain, namespace, group, name string) Identity {
	id, err := New(domain, namespace, group, name)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse parses a dot-joined canonical identity string.
// Format: {namespace}.{group}.{domain}.{name} with exactly four parts.
func Parse(s string) (Identity, error) {
	if s == "" {
		return Identity{}, ErrInvalidIdentity
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Identity{}, fmt.Errorf("%w: %q has %d parts, want 4", ErrInvalidIdentity, s, len(parts))
	}
	return New(parts[2], parts[0], parts[1], parts[3])
}

// ValidatePart checks a single identity part against the allowed-character
// rule: non-empty, at most 128 characters, lowercase letters, digits,
// underscore and hyphen only.
func ValidatePart(part string) error {
	if part == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPart)
	}
	if len(part) > maxPartLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPart, maxPartLen)
	}
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidPart, r)
		}
	}
	return nil
}

// Domain returns the domain part.
func (id Identity) Domain() string { return id.domain }

// Namespace returns the namespace part.
func (id Identity) Namespace() string { return id.namespace }

// Group returns the group part.
func (id Identity) Group() string { return id.group }

// Name returns the name part.
func (id Identity) Name() string { return id.name }

// IsZero reports whether the identity is the invalid zero value.
func (id Identity) IsZero() bool {
	return id.domain == "" && id.namespace == "" && id.group == "" && id.name == ""
}

// String returns the dot-joined canonical form,
// {namespace}.{group}.{domain}.{name}.
func (id Identity) String() string {
	return id.namespace + "." + id.group + "." + id.domain + "." + id.name
}

// WithDomain returns a copy of the identity with the domain part swapped.
// The resolution pipeline uses this to look up sibling components (e.g. a
// service's schema) under the same namespace/group/name.
func (id Identity) WithDomain(domain string) (Identity, error) {
	return New(domain, id.namespace, id.group, id.name)
}

// WithName returns a copy of the identity with the name part swapped.
// Used by collision renaming, which appends a numeric suffix.
func (id Identity) WithName(name string) (Identity, error) {
	return New(id.domain, id.namespace, id.group, name)
}
