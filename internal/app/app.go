// Package app ties one application instance to its component store,
// client set, and emitter, and tracks which instance is currently
// active. Registrations made before any instance is active land in the
// deferred buffer and are flushed on activation.
package app

import (
	"errors"
	"sync"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/emitter"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/registry"
)

var ErrNoActiveApp = errors.New("app: no active application")

// App owns the component store and collaborators for one application
// instance.
type App struct {
	name     string
	store    *registry.Store
	clients  *dispatch.ClientSet
	emitter  *emitter.Emitter
	resolver *identity.Resolver
}

// Option configures an App at construction.
type Option func(*App)

func WithResolver(r *identity.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

func WithClients(cs *dispatch.ClientSet) Option {
	return func(a *App) { a.clients = cs }
}

func New(name string, opts ...Option) *App {
	a := &App{
		name:     name,
		store:    registry.NewStore(),
		clients:  dispatch.NewClientSet(),
		emitter:  emitter.New(),
		resolver: identity.NewResolver(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Name() string                 { return a.name }
func (a *App) Store() *registry.Store       { return a.store }
func (a *App) Clients() *dispatch.ClientSet { return a.clients }
func (a *App) Emitter() *emitter.Emitter    { return a.emitter }
func (a *App) Resolver() *identity.Resolver { return a.resolver }

// Register routes a record into the app's store.
func (a *App) Register(rec registry.Record) (identity.Identity, error) {
	return a.store.Register(rec)
}

// Finalize freezes every domain registry. Called once at the end of the
// startup sequence; registrations after this fail.
func (a *App) Finalize() {
	a.store.FreezeAll()
	log.Info(log.CatApp, "component store frozen", "app", a.name)
}

// Activate makes a the process-wide current application and flushes the
// deferred registration buffer into its store. Any previously active
// stack is replaced.
func (a *App) Activate() error {
	activeMu.Lock()
	activeStack = []*App{a}
	activeMu.Unlock()

	flushed, err := registry.Deferred.FlushInto(a.store)
	if err != nil {
		return err
	}
	if len(flushed) > 0 {
		log.Info(log.CatApp, "flushed deferred registrations", "app", a.name, "count", len(flushed))
	}
	return nil
}

var (
	activeMu    sync.RWMutex
	activeStack []*App
)

// Current returns the active application, failing clearly when none is.
func Current() (*App, error) {
	activeMu.RLock()
	defer activeMu.RUnlock()
	if len(activeStack) == 0 {
		return nil, ErrNoActiveApp
	}
	return activeStack[len(activeStack)-1], nil
}

// CurrentStore resolves the active application's component store.
func CurrentStore() (*registry.Store, error) {
	a, err := Current()
	if err != nil {
		return nil, err
	}
	return a.Store(), nil
}

// Push temporarily makes a the current application and returns a restore
// function that pops it again. Intended for test isolation:
//
//	defer app.Push(testApp)()
func Push(a *App) (restore func()) {
	activeMu.Lock()
	activeStack = append(activeStack, a)
	activeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			activeMu.Lock()
			defer activeMu.Unlock()
			for i := len(activeStack) - 1; i >= 0; i-- {
				if activeStack[i] == a {
					activeStack = append(activeStack[:i], activeStack[i+1:]...)
					return
				}
			}
		})
	}
}

// Reset clears the active stack. Test helper.
func Reset() {
	activeMu.Lock()
	activeStack = nil
	activeMu.Unlock()
}
