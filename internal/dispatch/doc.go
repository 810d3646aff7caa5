// Package dispatch is the client layer between the execution engine and
// provider backends. It owns the provider-agnostic request/response
// envelopes, a factory registry of provider backends, and the retrying
// Client wrapper plus the named ClientSet the engine resolves clients from.
//
// Backends are tagged at registration time as either non-blocking (Caller)
// or blocking (BlockingCaller); the dispatch layer branches on the tag and
// offloads blocking calls so they cannot stall concurrent work. Each Client
// runs its own attempt/backoff loop, independent of the engine's, with a
// hard ceiling on the delay.
package dispatch
