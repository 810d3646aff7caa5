package registry

import (
	"sort"
	"sync"

	"github.com/zjrosen/relay/internal/identity"
)

// Store owns one Registry per domain for a single application instance.
// Registries are created lazily on first access.
type Store struct {
	mu         sync.Mutex
	registries map[string]*Registry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{registries: make(map[string]*Registry)}
}

// Domain returns the registry for the given domain, creating it if needed.
func (s *Store) Domain(domain string) (*Registry, error) {
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registries[domain]
	if !ok {
		reg = newRegistry(domain)
		s.registries[domain] = reg
	}
	return reg, nil
}

// Register routes rec to the registry matching its identity's domain.
func (s *Store) Register(rec Record) (identity.Identity, error) {
	reg, err := s.Domain(rec.Identity.Domain())
	if err != nil {
		return identity.Identity{}, err
	}
	return reg.Register(rec)
}

// Get returns the component under id, or a not-found error.
func (s *Store) Get(id identity.Identity) (any, error) {
	reg, err := s.Domain(id.Domain())
	if err != nil {
		return nil, err
	}
	return reg.Get(id)
}

// TryGet is Get without the failure.
func (s *Store) TryGet(id identity.Identity) (any, bool) {
	reg, err := s.Domain(id.Domain())
	if err != nil {
		return nil, false
	}
	return reg.TryGet(id)
}

// FreezeAll freezes every domain registry owned by the store. Invoked once,
// at the end of an application's startup sequence.
func (s *Store) FreezeAll() {
	s.mu.Lock()
	regs := make([]*Registry, 0, len(s.registries))
	for _, reg := range s.registries {
		regs = append(regs, reg)
	}
	s.mu.Unlock()

	for _, reg := range regs {
		reg.Freeze()
	}
}

// Domains returns the names of all domains with a registry, sorted.
func (s *Store) Domains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.registries))
	for name := range s.registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
