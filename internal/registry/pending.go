package registry

import (
	"fmt"
	"sync"

	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
)

// Pending is a FIFO buffer for registrations that occur before any
// application instance is active, e.g. from package init functions.
type Pending struct {
	mu      sync.Mutex
	records []Record
}

// Enqueue appends a record. Safe from any goroutine at any time.
func (p *Pending) Enqueue(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
}

// Len returns the number of buffered records.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// FlushInto atomically drains the buffer and replays each record into the
// store in original order. The snapshot-then-clear step runs before any
// replay, so a record is delivered at most once even if a later replay
// fails; flushing an empty buffer is a no-op.
func (p *Pending) FlushInto(store *Store) ([]identity.Identity, error) {
	p.mu.Lock()
	drained := p.records
	p.records = nil
	p.mu.Unlock()

	if len(drained) == 0 {
		return nil, nil
	}

	registered := make([]identity.Identity, 0, len(drained))
	for _, rec := range drained {
		id, err := store.Register(rec)
		if err != nil {
			return registered, fmt.Errorf("flushing pending registration %s: %w", rec.Identity, err)
		}
		registered = append(registered, id)
	}
	log.Debug(log.CatRegistry, "flushed pending registrations", "count", len(registered))
	return registered, nil
}

// Deferred is the process-wide pending buffer used by registration call
// sites that run before an application activates.
var Deferred = &Pending{}

// Defer enqueues rec on the process-wide pending buffer.
func Defer(rec Record) {
	Deferred.Enqueue(rec)
}
