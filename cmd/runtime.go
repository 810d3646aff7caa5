package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/zjrosen/relay/internal/app"
	"github.com/zjrosen/relay/internal/audit"
	"github.com/zjrosen/relay/internal/config"
	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/engine"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/prompt"
	"github.com/zjrosen/relay/internal/tracing"

	// Register provider backends so configured clients can be built.
	"github.com/zjrosen/relay/internal/dispatch/providers/mock"
)

// runtime is the assembled application a command runs against: the
// active app, its executor, and the optional tracing/audit/reload
// machinery that needs shutting down afterwards.
type runtime struct {
	app      *app.App
	executor *engine.Executor
	tracer   *tracing.Provider
	audit    *audit.Store
	reloader *prompt.Reloader
	cancel   context.CancelFunc
	logDone  func()
}

// buildRuntime wires the loaded config into a running application. The
// caller owns the returned runtime and must Close it.
func buildRuntime(ctx context.Context) (*runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &runtime{}

	if debug := os.Getenv("RELAY_DEBUG") != "" || debugFlag; debug {
		logPath := os.Getenv("RELAY_LOG")
		if logPath == "" {
			logPath = "relay.log"
		}
		done, err := log.Init(logPath)
		if err != nil {
			return nil, fmt.Errorf("initializing logging: %w", err)
		}
		rt.logDone = done
	}

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	rt.tracer = tracer

	clients, err := config.BuildClientSet(cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("building clients: %w", err)
	}
	if clients.Len() == 0 {
		// No clients configured: fall back to the local mock echo
		// backend so the CLI stays usable out of the box.
		backend, err := dispatch.NewBackend(mock.Slug, map[string]any{"echo": true})
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := clients.Add(dispatch.NewClient(dispatch.ClientConfig{
			Name:     dispatch.DefaultClientName,
			Provider: mock.Slug,
		}, backend)); err != nil {
			rt.Close()
			return nil, err
		}
	}

	a := app.New("relay",
		app.WithResolver(identity.NewResolver(cfg.StripTokens...)),
		app.WithClients(clients),
	)

	if cfg.Prompts.Dir != "" {
		loader := prompt.NewLoader(a.Resolver())
		n, err := loader.LoadAndRegister(a.Store(), cfg.Prompts.Dir)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("loading prompts: %w", err)
		}
		log.Info(log.CatApp, "prompts loaded", "dir", cfg.Prompts.Dir, "count", n)

		if cfg.Prompts.Reload {
			rc := prompt.DefaultReloaderConfig(cfg.Prompts.Dir)
			if cfg.Prompts.Debounce > 0 {
				rc.DebounceDur = cfg.Prompts.Debounce
			}
			reloader, err := prompt.NewReloader(rc, loader, a.Store())
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("watching prompts: %w", err)
			}
			if _, err := reloader.Start(); err != nil {
				rt.Close()
				return nil, fmt.Errorf("watching prompts: %w", err)
			}
			rt.reloader = reloader
		}
	}

	if err := a.Activate(); err != nil {
		rt.Close()
		return nil, err
	}
	rt.app = a

	followCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DBPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		rt.audit = store
		store.Follow(followCtx, a.Emitter())
	}

	opts := []engine.ExecutorOption{
		engine.WithRetry(cfg.Engine.MaxAttempts, cfg.Engine.Backoff()),
	}
	if tracer.Enabled() {
		opts = append(opts, engine.WithTracer(tracer.Tracer()))
	}
	rt.executor = engine.New(a.Store(), clients, a.Emitter(), opts...)

	return rt, nil
}

// Close tears the runtime down in reverse construction order.
func (rt *runtime) Close() {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.reloader != nil {
		_ = rt.reloader.Stop()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	if rt.app != nil {
		rt.app.Emitter().Close()
	}
	if rt.tracer != nil {
		_ = rt.tracer.Shutdown(context.Background())
	}
	if rt.logDone != nil {
		rt.logDone()
	}
}
