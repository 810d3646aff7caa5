package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultClientName gives a client the default slot when no client has been
// marked default explicitly.
const DefaultClientName = "default"

var (
	ErrNoClients         = errors.New("dispatch: no clients configured")
	ErrUnknownClient     = errors.New("dispatch: unknown client")
	ErrDuplicateClient   = errors.New("dispatch: duplicate client name")
	ErrAmbiguousProvider = errors.New("dispatch: multiple clients for provider")
)

// ClientSet holds named clients and a default pointer.
//
// The default resolves, in order: the client marked via SetDefault, the
// client literally named "default", else the first client added.
type ClientSet struct {
	mu       sync.RWMutex
	byName   map[string]*Client
	order    []string
	explicit string
}

func NewClientSet() *ClientSet {
	return &ClientSet{byName: map[string]*Client{}}
}

// Add registers a client under its name. Names are unique across the set.
func (s *ClientSet) Add(c *Client) error {
	if c == nil {
		return errors.New("dispatch: nil client")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Name()
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, name)
	}
	s.byName[name] = c
	s.order = append(s.order, name)
	return nil
}

// SetDefault marks the named client as the explicit default.
func (s *ClientSet) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, name)
	}
	s.explicit = name
	return nil
}

// Get returns the client registered under name.
func (s *ClientSet) Get(name string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, name)
	}
	return c, nil
}

// ByProvider returns the single client dispatching to the provider slug.
// More than one match is an error; the caller must name the client instead.
func (s *ClientSet) ByProvider(slug string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Client
	for _, name := range s.order {
		c := s.byName[name]
		if c.Provider() != slug {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousProvider, slug)
		}
		found = c
	}
	if found == nil {
		return nil, fmt.Errorf("%w: provider %s", ErrUnknownClient, slug)
	}
	return found, nil
}

// Default resolves the set's default client.
func (s *ClientSet) Default() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, ErrNoClients
	}
	if s.explicit != "" {
		return s.byName[s.explicit], nil
	}
	if c, ok := s.byName[DefaultClientName]; ok {
		return c, nil
	}
	return s.byName[s.order[0]], nil
}

// Names returns the registered client names sorted.
func (s *ClientSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	sort.Strings(names)
	return names
}

// Len reports the number of registered clients.
func (s *ClientSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}
