package identity

import (
	"fmt"
	"reflect"
	"strings"
)

// Source records where an identity part came from, for diagnostics.
type Source string

const (
	// SourceArgument means the part was supplied as an explicit argument.
	SourceArgument Source = "argument"
	// SourceAttribute means the part came from a component attribute hook.
	SourceAttribute Source = "attribute"
	// SourceDerived means the part was inferred from the component's type.
	SourceDerived Source = "derived"
)

// DefaultNamespace is used when no namespace can be inferred.
const DefaultNamespace = "default"

// DefaultGroup is used when no group is supplied.
const DefaultGroup = "default"

// defaultStripTokens are always merged first into the strip-token list.
var defaultStripTokens = []string{"component", "impl", "base"}

// Namespaced lets a component supply its namespace part.
type Namespaced interface {
	ComponentNamespace() string
}

// Grouped lets a component supply its group part.
type Grouped interface {
	ComponentGroup() string
}

// Named lets a component supply its name part explicitly.
// Explicit names are normalized but never token-stripped.
type Named interface {
	ComponentName() string
}

// Hints carries explicit per-call identity overrides.
type Hints struct {
	Namespace string
	Group     string
	Name      string

	// ExtraStripTokens are merged after the resolver's configured tokens.
	ExtraStripTokens []string
}

// PartTrace records the intermediate forms of one identity part.
// Pass-through context for the caller's observability layer.
type PartTrace struct {
	Raw        string
	Stripped   string
	Normalized string
	Source     Source
}

// Meta is the diagnostic trail returned alongside a resolved Identity.
type Meta struct {
	Namespace PartTrace
	Group     PartTrace
	Name      PartTrace
}

// Derived reports whether the name part was derived rather than explicit.
// Derived names are eligible for collision renaming at registration time.
func (m Meta) Derived() bool {
	return m.Name.Source == SourceDerived
}

// Resolver derives identities for components. The zero value uses only the
// built-in strip tokens; NewResolver merges per-application overrides.
type Resolver struct {
	stripTokens []string
}

// NewResolver creates a Resolver whose strip-token list is the built-in
// defaults followed by the given overrides, deduplicated case-insensitively
// on first occurrence.
func NewResolver(overrides ...string) *Resolver {
	return &Resolver{stripTokens: mergeTokens(defaultStripTokens, overrides)}
}

// StripTokens returns the resolver's merged strip-token list.
func (r *Resolver) StripTokens() []string {
	out := make([]string, len(r.stripTokens))
	copy(out, r.stripTokens)
	return out
}

// Resolve computes the Identity for component in the given domain.
// Precedence per part: explicit hint, component attribute hook, inference
// from the component's type. Validation failure is an error, never a
// silent coercion.
func (r *Resolver) Resolve(component any, domain string, hints Hints) (Identity, Meta, error) {
	if err := ValidatePart(domain); err != nil {
		return Identity{}, Meta{}, fmt.Errorf("domain %q: %w", domain, err)
	}

	t := componentType(component)
	tokens := mergeTokens(r.stripTokens, hints.ExtraStripTokens)

	var meta Meta

	// namespace: argument -> attribute -> module root -> "default"
	switch {
	case hints.Namespace != "":
		meta.Namespace = tracePart(hints.Namespace, SourceArgument)
	case hasNamespaceAttr(component):
		meta.Namespace = tracePart(component.(Namespaced).ComponentNamespace(), SourceAttribute)
	default:
		ns := moduleRoot(t)
		if ns == "" {
			ns = DefaultNamespace
		}
		meta.Namespace = tracePart(ns, SourceDerived)
	}

	// group: argument -> attribute -> "default"
	switch {
	case hints.Group != "":
		meta.Group = tracePart(hints.Group, SourceArgument)
	case hasGroupAttr(component):
		meta.Group = tracePart(component.(Grouped).ComponentGroup(), SourceAttribute)
	default:
		meta.Group = tracePart(DefaultGroup, SourceDerived)
	}

	// name: explicit argument/attribute is normalized only; otherwise derive
	// from the type name with token stripping.
	switch {
	case strings.TrimSpace(hints.Name) != "":
		meta.Name = tracePart(hints.Name, SourceArgument)
	case hasNameAttr(component):
		meta.Name = tracePart(component.(Named).ComponentName(), SourceAttribute)
	default:
		if t == nil {
			return Identity{}, Meta{}, fmt.Errorf("%w: no name hint and no component type to derive from", ErrInvalidIdentity)
		}
		raw := bareTypeName(t)
		stripped, normalized := deriveName(raw, tokens)
		meta.Name = PartTrace{Raw: raw, Stripped: stripped, Normalized: normalized, Source: SourceDerived}
	}

	id, err := New(domain, meta.Namespace.Normalized, meta.Group.Normalized, meta.Name.Normalized)
	if err != nil {
		return Identity{}, Meta{}, err
	}
	return id, meta, nil
}

// tracePart builds the trace for an explicit part: trim and
// separator-normalize only, no token stripping.
func tracePart(raw string, source Source) PartTrace {
	normalized := normalizePart(raw)
	return PartTrace{Raw: raw, Stripped: raw, Normalized: normalized, Source: source}
}

// deriveName splits raw at CamelCase and separator boundaries, drops
// segments matching a strip token, and rejoins. Returns the post-strip
// form and the final normalized name. A derived name is never empty: if
// stripping removes every segment, the unstripped normalized name is used.
func deriveName(raw string, tokens []string) (stripped, normalized string) {
	segments := splitSegments(raw)

	kept := segments[:0:0]
	for _, seg := range segments {
		if !matchesToken(seg, tokens) {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		kept = segments
	}

	stripped = strings.Join(kept, "-")
	normalized = joinSegments(kept)
	return stripped, normalized
}

// splitSegments breaks a type name into segments at CamelCase boundaries
// and at underscore/hyphen/space separators. Acronym runs stay together:
// "HTTPCodec" -> ["HTTP", "Codec"].
func splitSegments(s string) []string {
	var segments []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			segments = append(segments, string(cur))
			cur = nil
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case isUpper(r):
			prevLower := i > 0 && (isLower(runes[i-1]) || isDigit(runes[i-1]))
			acronymEnd := i > 0 && isUpper(runes[i-1]) && i+1 < len(runes) && isLower(runes[i+1])
			if prevLower || acronymEnd {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return segments
}

// joinSegments lowercases and rejoins segments with "-". Version-like
// segments (v2, 42) fuse onto the preceding segment without a separator,
// so "FooV2" normalizes to "foov2" rather than "foo-v2".
func joinSegments(segments []string) string {
	var b strings.Builder
	for i, seg := range segments {
		low := strings.ToLower(seg)
		if i > 0 && !isVersionSegment(low) {
			b.WriteByte('-')
		}
		b.WriteString(low)
	}
	return b.String()
}

func isVersionSegment(s string) bool {
	if s == "" {
		return false
	}
	rest := s
	if s[0] == 'v' {
		rest = s[1:]
	}
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if !isDigit(r) {
			return false
		}
	}
	return true
}

func matchesToken(segment string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.EqualFold(segment, tok) {
			return true
		}
	}
	return false
}

// normalizePart trims, lowercases, and replaces separators and disallowed
// characters with hyphens. Used for explicit parts and inferred namespaces.
func normalizePart(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// mergeTokens concatenates token lists in order, deduplicating
// case-insensitively on first occurrence.
func mergeTokens(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, tok := range list {
			key := strings.ToLower(tok)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

// componentType returns the underlying named type of component, unwrapping
// pointers. Returns nil for nil components.
func componentType(component any) reflect.Type {
	if component == nil {
		return nil
	}
	t := reflect.TypeOf(component)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// bareTypeName returns the type's name without generic instantiation
// parameters: "T[int]" -> "T".
func bareTypeName(t reflect.Type) string {
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = t.String()
	}
	return name
}

// moduleRoot infers a namespace from the type's package path: the first
// path segment that is not a host name (a segment containing a dot).
// "github.com/acme/widgets/internal/codecs" -> "acme".
func moduleRoot(t reflect.Type) string {
	if t == nil {
		return ""
	}
	pkg := t.PkgPath()
	if pkg == "" {
		return ""
	}
	for _, seg := range strings.Split(pkg, "/") {
		if seg == "" || strings.Contains(seg, ".") {
			continue
		}
		return normalizePart(seg)
	}
	return ""
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func hasNamespaceAttr(c any) bool {
	n, ok := c.(Namespaced)
	return ok && n.ComponentNamespace() != ""
}

func hasGroupAttr(c any) bool {
	g, ok := c.(Grouped)
	return ok && g.ComponentGroup() != ""
}

func hasNameAttr(c any) bool {
	n, ok := c.(Named)
	return ok && strings.TrimSpace(n.ComponentName()) != ""
}
