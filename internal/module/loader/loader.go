// Package loader instantiates, initializes, and starts modules in dependency
// order, delegating storage to the module registry.
package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
	"github.com/systempromptio/systemprompt-os/internal/module"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
)

// Factory constructs a module instance.
type Factory func() (module.Module, error)

// Descriptor describes one module to load: its identity, its dependency
// edges, whether it should be started immediately, and how to build it.
type Descriptor struct {
	Name         string
	Dependencies []string
	AutoStart    bool
	Factory      Factory
}

// Loader drives module bootstrap. All loading happens sequentially on the
// caller's goroutine, so no two modules' Initialize calls ever overlap.
type Loader struct {
	registry *registry.Registry
	eventBus bus.EventBus
	logger   *logger.Logger

	mctx *module.Context

	// loadOrder records the order modules were started in, for reverse-order
	// shutdown.
	loadOrder []string
}

// NewLoader creates a module loader backed by the given registry.
func NewLoader(reg *registry.Registry, eventBus bus.EventBus, log *logger.Logger) *Loader {
	return &Loader{
		registry: reg,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "module-loader")),
		mctx: &module.Context{
			Logger:   log,
			EventBus: eventBus,
			Exports:  make(map[string]interface{}),
		},
	}
}

// LoadModules resolves a dependency-ordered load sequence for the given
// descriptors, then instantiates, initializes, and (per descriptor) starts
// each module in that order.
//
// A dependency cycle is a fatal configuration error detected before any
// module is touched. A module failing to initialize aborts the call and
// leaves already-loaded modules running; the loader does not roll back.
func (l *Loader) LoadModules(ctx context.Context, descriptors []Descriptor) error {
	order, err := resolveOrder(descriptors)
	if err != nil {
		return err
	}

	byName := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	l.logger.Info("loading modules", zap.Int("count", len(order)), zap.Strings("order", order))

	for _, name := range order {
		if err := l.loadOne(ctx, byName[name]); err != nil {
			return fmt.Errorf("failed to load module %s: %w", name, err)
		}
	}

	return nil
}

// LoadModule loads one additional module after bootstrap. Its declared
// dependencies must already be registered and running.
func (l *Loader) LoadModule(ctx context.Context, desc Descriptor) error {
	for _, dep := range desc.Dependencies {
		depMod := l.registry.Get(dep)
		if depMod == nil {
			return fmt.Errorf("module %s: dependency %s is not registered: %w",
				desc.Name, dep, errors.ErrModuleNotFound)
		}
		if depMod.Status() != module.StatusRunning {
			return fmt.Errorf("module %s: dependency %s is %s: %w",
				desc.Name, dep, depMod.Status(), errors.ErrDependencyNotRunning)
		}
	}

	return l.loadOne(ctx, desc)
}

// loadOne instantiates, registers, initializes, and optionally starts a
// single module.
func (l *Loader) loadOne(ctx context.Context, desc Descriptor) error {
	m, err := desc.Factory()
	if err != nil {
		return fmt.Errorf("factory failed: %w", err)
	}

	// Every dependency must already be running. Sequential loading in
	// topological order makes this a sanity check rather than a race.
	for _, dep := range m.Dependencies() {
		depMod := l.registry.Get(dep)
		if depMod == nil {
			return fmt.Errorf("dependency %s is not registered: %w", dep, errors.ErrModuleNotFound)
		}
		if depMod.Status() != module.StatusRunning {
			return fmt.Errorf("dependency %s is %s: %w", dep, depMod.Status(), errors.ErrDependencyNotRunning)
		}
	}

	if err := l.registry.Register(m); err != nil {
		return err
	}
	l.publish(ctx, events.ModuleRegistered, m)

	if err := m.Initialize(ctx, l.mctx); err != nil {
		l.publish(ctx, events.ModuleFailed, m)
		return fmt.Errorf("initialize failed: %w", err)
	}
	l.publish(ctx, events.ModuleInitialized, m)

	if exports := m.Exports(); exports != nil {
		l.mctx.Exports[m.Name()] = exports
	}

	if desc.AutoStart {
		if err := l.StartModule(ctx, m.Name()); err != nil {
			return err
		}
	} else {
		l.loadOrder = append(l.loadOrder, m.Name())
	}

	l.logger.Info("module loaded",
		zap.String("module", m.Name()),
		zap.String("version", m.Version()),
		zap.Bool("started", desc.AutoStart))

	return nil
}

// StartModule starts a registered module by name.
func (l *Loader) StartModule(ctx context.Context, name string) error {
	m := l.registry.Get(name)
	if m == nil {
		return fmt.Errorf("%w: %s", errors.ErrModuleNotFound, name)
	}

	for _, dep := range m.Dependencies() {
		depMod := l.registry.Get(dep)
		if depMod == nil || depMod.Status() != module.StatusRunning {
			return fmt.Errorf("module %s: dependency %s: %w", name, dep, errors.ErrDependencyNotRunning)
		}
	}

	if err := m.Start(ctx); err != nil {
		l.publish(ctx, events.ModuleFailed, m)
		return fmt.Errorf("start failed for module %s: %w", name, err)
	}

	// Record start order once, even if the module was loaded without
	// autoStart and started later.
	for _, existing := range l.loadOrder {
		if existing == name {
			l.publish(ctx, events.ModuleStarted, m)
			return nil
		}
	}
	l.loadOrder = append(l.loadOrder, name)
	l.publish(ctx, events.ModuleStarted, m)
	return nil
}

// StopModules stops all loaded modules in reverse load order. Individual
// stop failures are logged and do not prevent stopping the rest.
func (l *Loader) StopModules(ctx context.Context) {
	for i := len(l.loadOrder) - 1; i >= 0; i-- {
		name := l.loadOrder[i]
		m := l.registry.Get(name)
		if m == nil {
			continue
		}
		if m.Status() != module.StatusRunning {
			continue
		}
		if err := m.Stop(ctx); err != nil {
			l.logger.Error("failed to stop module",
				zap.String("module", name),
				zap.Error(err))
			continue
		}
		l.publish(ctx, events.ModuleStopped, m)
		l.logger.Info("module stopped", zap.String("module", name))
	}
	l.loadOrder = nil
}

// Context returns the module context shared with loaded modules.
func (l *Loader) Context() *module.Context {
	return l.mctx
}

func (l *Loader) publish(ctx context.Context, eventType string, m module.Module) {
	if l.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "module-loader", map[string]interface{}{
		"module":  m.Name(),
		"version": m.Version(),
		"type":    string(m.ModuleType()),
		"status":  string(m.Status()),
	})
	if err := l.eventBus.Publish(ctx, eventType, event); err != nil {
		l.logger.Error("failed to publish module event",
			zap.String("event_type", eventType),
			zap.String("module", m.Name()),
			zap.Error(err))
	}
}

// resolveOrder topologically sorts the descriptors so every module appears
// after all of its dependencies. Dependencies on modules outside the
// descriptor set are assumed to be satisfied externally (pre-loaded) and are
// ignored for ordering. A cycle yields ErrDependencyCycle.
func resolveOrder(descriptors []Descriptor) ([]string, error) {
	inSet := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		inSet[d.Name] = true
	}

	indegree := make(map[string]int, len(descriptors))
	dependents := make(map[string][]string)
	for _, d := range descriptors {
		if _, dup := indegree[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", errors.ErrDuplicateModule, d.Name)
		}
		indegree[d.Name] = 0
	}
	for _, d := range descriptors {
		for _, dep := range d.Dependencies {
			if !inSet[dep] {
				continue
			}
			indegree[d.Name]++
			dependents[dep] = append(dependents[dep], d.Name)
		}
	}

	// Kahn's algorithm, preserving descriptor order for determinism.
	var order []string
	var ready []string
	for _, d := range descriptors {
		if indegree[d.Name] == 0 {
			ready = append(ready, d.Name)
		}
	}

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(descriptors) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, fmt.Errorf("%w: involving %v", errors.ErrDependencyCycle, cyclic)
	}

	return order, nil
}
