// Package identity defines the immutable 4-part identity used to address
// registrable components, and the resolver that derives an identity for a
// component from explicit hints, component attributes, or reflection.
//
// An identity is a validated {domain, namespace, group, name} tuple with a
// dot-joined canonical string form, e.g. "acme.default.codec.foov2". It is
// created once, at registration time, and never mutated afterward; every
// lookup in the registry and every branch of the resolution pipeline keys
// off it.
//
// Name derivation splits a Go type name at CamelCase and separator
// boundaries, drops segments that match configured strip tokens, and
// normalizes the remainder. Derivation never produces an empty name: if
// stripping removes every segment the normalized raw name is used instead.
package identity
