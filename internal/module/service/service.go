// Package service composes the module registry, loader, and manager into a
// single module-shaped façade so the module system can manage itself
// uniformly.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/module"
	"github.com/systempromptio/systemprompt-os/internal/module/loader"
	"github.com/systempromptio/systemprompt-os/internal/module/manager"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
)

// Name is the façade's module name.
const Name = "modules"

// Version is the façade's module version.
const Version = "1.0.0"

// StoreProvider builds the module record store. It is invoked during
// Initialize so a database that is not ready yet degrades the manager
// instead of failing bootstrap.
type StoreProvider func() (manager.Store, error)

// Service is the top-level module façade. It is itself a Module and
// participates in the module system it orchestrates.
type Service struct {
	module.Base

	registry *registry.Registry
	loader   *loader.Loader
	manager  *manager.Manager

	storeProvider StoreProvider
	modulesDir    string
	logger        *logger.Logger

	// degraded is set when the database-backed manager could not be
	// initialized; loader/registry functionality remains available.
	degraded bool
}

var _ module.Module = (*Service)(nil)

// NewService creates the modules façade over an existing registry and loader.
func NewService(reg *registry.Registry, ldr *loader.Loader, storeProvider StoreProvider, modulesDir string, log *logger.Logger) *Service {
	return &Service{
		Base:          module.NewBase(Name, Version, module.TypeCore, nil),
		registry:      reg,
		loader:        ldr,
		storeProvider: storeProvider,
		modulesDir:    modulesDir,
		logger:        log.WithFields(zap.String("component", "modules-service")),
	}
}

// Initialize brings the façade to RUNNING. A manager initialization failure
// (typically: database module not ready) is logged as a warning and the
// service continues in degraded, loader/registry-only mode — module
// orchestration must not hard-depend on the database being ready.
func (s *Service) Initialize(ctx context.Context, mctx *module.Context) error {
	if err := s.SetStatus(module.StatusInitializing); err != nil {
		return err
	}

	store, err := s.storeProvider()
	if err != nil {
		s.degraded = true
		s.logger.Warn("module manager unavailable, continuing without persistence",
			zap.Error(err))
	} else {
		s.manager = manager.NewManager(store, s.modulesDir, mctx.EventBus, s.logger)
	}

	if err := s.SetStatus(module.StatusRunning); err != nil {
		_ = s.SetStatus(module.StatusError)
		return err
	}
	return nil
}

// Start is a no-op; the façade is fully active after Initialize.
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop transitions the façade through STOPPING to STOPPED.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.SetStatus(module.StatusStopping); err != nil {
		return err
	}
	return s.SetStatus(module.StatusStopped)
}

// HealthCheck aggregates sub-service presence and current status. It never
// returns an error; problems surface in the message.
func (s *Service) HealthCheck(ctx context.Context) module.HealthStatus {
	if s.registry == nil || s.loader == nil {
		return module.HealthStatus{Healthy: false, Message: "registry or loader missing"}
	}
	status := s.Status()
	if status != module.StatusRunning {
		return module.HealthStatus{Healthy: false, Message: fmt.Sprintf("status is %s", status)}
	}
	if s.degraded {
		return module.HealthStatus{Healthy: true, Message: "running in degraded mode (module manager unavailable)"}
	}
	return module.HealthStatus{Healthy: true, Message: fmt.Sprintf("%d modules registered", s.registry.Len())}
}

// Exports returns the façade's typed exports surface.
func (s *Service) Exports() interface{} {
	return &Exports{svc: s}
}

// Degraded reports whether the service is running without its
// database-backed manager.
func (s *Service) Degraded() bool {
	return s.degraded
}

// Exports is the typed surface other modules consume.
type Exports struct {
	svc *Service
}

// ScanForModules discovers module manifests under the configured directory.
func (e *Exports) ScanForModules() ([]*manager.Manifest, error) {
	if e.svc.manager == nil {
		return nil, nil
	}
	return e.svc.manager.ScanForModules()
}

// GetEnabledModules returns all enabled persisted module records.
func (e *Exports) GetEnabledModules(ctx context.Context) ([]*manager.Record, error) {
	if e.svc.manager == nil {
		return nil, nil
	}
	return e.svc.manager.GetEnabledModules(ctx)
}

// GetModule returns the persisted record for name, or nil when absent.
func (e *Exports) GetModule(ctx context.Context, name string) (*manager.Record, error) {
	if e.svc.manager == nil {
		return nil, nil
	}
	return e.svc.manager.GetModule(ctx, name)
}

// EnableModule marks a persisted module enabled.
func (e *Exports) EnableModule(ctx context.Context, name string) error {
	if e.svc.manager == nil {
		return fmt.Errorf("module manager unavailable")
	}
	return e.svc.manager.EnableModule(ctx, name)
}

// DisableModule marks a persisted module disabled.
func (e *Exports) DisableModule(ctx context.Context, name string) error {
	if e.svc.manager == nil {
		return fmt.Errorf("module manager unavailable")
	}
	return e.svc.manager.DisableModule(ctx, name)
}

// RegisterCoreModule persists a CORE module row if not already present.
func (e *Exports) RegisterCoreModule(ctx context.Context, name, version, path string, dependencies []string) error {
	if e.svc.manager == nil {
		return fmt.Errorf("module manager unavailable")
	}
	return e.svc.manager.RegisterCoreModule(ctx, name, version, path, dependencies)
}

// LoadCoreModule loads one additional module post-bootstrap via the loader.
func (e *Exports) LoadCoreModule(ctx context.Context, desc loader.Descriptor) error {
	return e.svc.loader.LoadModule(ctx, desc)
}

// StartCoreModule starts a registered module by name.
func (e *Exports) StartCoreModule(ctx context.Context, name string) error {
	return e.svc.loader.StartModule(ctx, name)
}

// GetCoreModule returns the live module instance for name. It returns nil
// when the module is unknown — and also when the module exists but is
// disabled in the database, enforcing the enabled-gate the registry itself
// knows nothing about. In degraded mode the gate is skipped.
func (e *Exports) GetCoreModule(ctx context.Context, name string) module.Module {
	m := e.svc.registry.Get(name)
	if m == nil {
		return nil
	}

	if e.svc.manager != nil {
		record, err := e.svc.manager.GetModule(ctx, name)
		if err != nil {
			e.svc.logger.Warn("failed to check module enabled state",
				zap.String("module", name),
				zap.Error(err))
			return m
		}
		if record != nil && !record.Enabled {
			return nil
		}
	}
	return m
}

// GetAllCoreModules returns a snapshot of all registered live modules.
func (e *Exports) GetAllCoreModules() map[string]module.Module {
	return e.svc.registry.GetAll()
}

// RegisterPreLoadedModule registers a module instantiated outside the
// loader. Escape hatch for modules constructed during bootstrap.
func (e *Exports) RegisterPreLoadedModule(m module.Module) error {
	return e.svc.registry.Register(m)
}

// ValidateCoreModules cross-checks registered core modules against their
// persisted records and on-disk manifests. In degraded mode validation is
// skipped with an empty result.
func (e *Exports) ValidateCoreModules(ctx context.Context) (*manager.ValidationResult, error) {
	if e.svc.manager == nil {
		e.svc.logger.Warn("skipping core module validation: module manager unavailable")
		return &manager.ValidationResult{}, nil
	}
	return e.svc.manager.ValidateCoreModules(ctx, e.svc.registry.GetAll())
}
