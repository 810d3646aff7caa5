package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/registry"
)

// Loader reads plan files and registers them into a component store.
type Loader struct {
	resolver *identity.Resolver
}

func NewLoader(resolver *identity.Resolver) *Loader {
	if resolver == nil {
		resolver = identity.NewResolver()
	}
	return &Loader{resolver: resolver}
}

// LoadFile parses one YAML plan file.
func (l *Loader) LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LoadDir parses every .yaml/.yml file directly under dir, sorted by
// filename so registration order is stable.
func (l *Loader) LoadDir(dir string) ([]*Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading plan dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	plans := make([]*Plan, 0, len(paths))
	for _, path := range paths {
		plan, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Identify resolves a plan's identity in the prompt_section domain.
func (l *Loader) Identify(plan *Plan) (identity.Identity, identity.Meta, error) {
	return l.resolver.Resolve(nil, registry.DomainPromptSection, identity.Hints{
		Namespace: plan.Namespace,
		Group:     plan.Group,
		Name:      plan.Name,
	})
}

// RegisterAll registers plans into the store with replace semantics, so a
// reload picks up edited content.
func (l *Loader) RegisterAll(store *registry.Store, plans []*Plan) error {
	for _, plan := range plans {
		id, meta, err := l.Identify(plan)
		if err != nil {
			return fmt.Errorf("plan %s: %w", plan.Name, err)
		}
		stored, err := store.Register(registry.Record{
			Component: plan,
			Identity:  id,
			Meta:      meta,
			Replace:   true,
		})
		if err != nil {
			return fmt.Errorf("plan %s: %w", plan.Name, err)
		}
		log.Debug(log.CatPrompt, "registered prompt plan", "identity", stored.String())
	}
	return nil
}

// LoadAndRegister loads every plan under dir into the store.
func (l *Loader) LoadAndRegister(store *registry.Store, dir string) (int, error) {
	plans, err := l.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	if err := l.RegisterAll(store, plans); err != nil {
		return 0, err
	}
	return len(plans), nil
}
