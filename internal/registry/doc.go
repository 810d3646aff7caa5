// Package registry implements the identity-addressed component store.
//
// A Registry holds the identity -> component mapping for one domain
// ("codec", "schema", "service", ...). A Store owns one lazily created
// Registry per domain for a single application instance and can be frozen
// at the end of startup, after which all writes fail.
//
// Registrations that happen before any application is active (package
// init time, for example) go through a Pending buffer and are replayed
// into a Store, in FIFO order and exactly once, when the application
// activates.
package registry
