package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/module"
	"github.com/systempromptio/systemprompt-os/internal/module/loader"
	"github.com/systempromptio/systemprompt-os/internal/module/manager"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
)

type stubModule struct {
	module.Base
}

func newStubModule(name string) *stubModule {
	return &stubModule{Base: module.NewBase(name, "1.0.0", module.TypeCore, nil)}
}

func (m *stubModule) Initialize(ctx context.Context, mctx *module.Context) error { return nil }
func (m *stubModule) Start(ctx context.Context) error                            { return nil }
func (m *stubModule) Stop(ctx context.Context) error                             { return nil }
func (m *stubModule) HealthCheck(ctx context.Context) module.HealthStatus {
	return module.HealthStatus{Healthy: true}
}
func (m *stubModule) Exports() interface{} { return nil }

func newTestService(t *testing.T, provider StoreProvider) *Service {
	t.Helper()
	reg := registry.NewRegistry()
	ldr := loader.NewLoader(reg, nil, logger.Default())
	return NewService(reg, ldr, provider, t.TempDir(), logger.Default())
}

func memoryProvider() (manager.Store, error) {
	return manager.NewMemoryStore(), nil
}

func failingProvider() (manager.Store, error) {
	return nil, fmt.Errorf("database module not ready")
}

func TestInitializeRunning(t *testing.T) {
	svc := newTestService(t, memoryProvider)

	if err := svc.Initialize(context.Background(), &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := svc.Status(); got != module.StatusRunning {
		t.Fatalf("status = %s, want %s", got, module.StatusRunning)
	}
	if svc.Degraded() {
		t.Fatal("service should not be degraded with a working store")
	}

	health := svc.HealthCheck(context.Background())
	if !health.Healthy {
		t.Fatalf("expected healthy, got %+v", health)
	}
}

func TestInitializeDegradedOnStoreFailure(t *testing.T) {
	svc := newTestService(t, failingProvider)

	if err := svc.Initialize(context.Background(), &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatalf("store failure must not fail bootstrap: %v", err)
	}
	if got := svc.Status(); got != module.StatusRunning {
		t.Fatalf("status = %s, want %s", got, module.StatusRunning)
	}
	if !svc.Degraded() {
		t.Fatal("expected degraded mode")
	}

	// Degraded is still healthy; the condition surfaces in the message only.
	health := svc.HealthCheck(context.Background())
	if !health.Healthy {
		t.Fatalf("degraded mode should stay healthy, got %+v", health)
	}
	if health.Message == "" {
		t.Fatal("expected a degraded-mode message")
	}
}

func TestHealthCheckBeforeRunning(t *testing.T) {
	svc := newTestService(t, memoryProvider)

	health := svc.HealthCheck(context.Background())
	if health.Healthy {
		t.Fatalf("expected unhealthy before Initialize, got %+v", health)
	}
}

func TestStopTransitions(t *testing.T) {
	svc := newTestService(t, memoryProvider)
	ctx := context.Background()

	if err := svc.Initialize(ctx, &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := svc.Status(); got != module.StatusStopped {
		t.Fatalf("status = %s, want %s", got, module.StatusStopped)
	}
}

func TestGetCoreModuleEnabledGate(t *testing.T) {
	svc := newTestService(t, memoryProvider)
	ctx := context.Background()

	if err := svc.Initialize(ctx, &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatal(err)
	}

	exports := svc.Exports().(*Exports)
	if err := exports.RegisterPreLoadedModule(newStubModule("tasks")); err != nil {
		t.Fatal(err)
	}

	// No persisted record yet: registry lookup passes through.
	if exports.GetCoreModule(ctx, "tasks") == nil {
		t.Fatal("expected module without a record to be returned")
	}

	if err := exports.RegisterCoreModule(ctx, "tasks", "1.0.0", "/modules/tasks", nil); err != nil {
		t.Fatal(err)
	}
	if exports.GetCoreModule(ctx, "tasks") == nil {
		t.Fatal("expected enabled module to be returned")
	}

	if err := exports.DisableModule(ctx, "tasks"); err != nil {
		t.Fatal(err)
	}
	if exports.GetCoreModule(ctx, "tasks") != nil {
		t.Fatal("disabled module must not be served")
	}

	if err := exports.EnableModule(ctx, "tasks"); err != nil {
		t.Fatal(err)
	}
	if exports.GetCoreModule(ctx, "tasks") == nil {
		t.Fatal("re-enabled module should be served again")
	}

	if exports.GetCoreModule(ctx, "unknown") != nil {
		t.Fatal("unknown module must return nil")
	}
}

func TestGetCoreModuleDegradedSkipsGate(t *testing.T) {
	svc := newTestService(t, failingProvider)
	ctx := context.Background()

	if err := svc.Initialize(ctx, &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatal(err)
	}

	exports := svc.Exports().(*Exports)
	if err := exports.RegisterPreLoadedModule(newStubModule("tasks")); err != nil {
		t.Fatal(err)
	}
	if exports.GetCoreModule(ctx, "tasks") == nil {
		t.Fatal("degraded mode must skip the enabled gate")
	}
}

func TestDegradedExportsFallbacks(t *testing.T) {
	svc := newTestService(t, failingProvider)
	ctx := context.Background()

	if err := svc.Initialize(ctx, &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatal(err)
	}
	exports := svc.Exports().(*Exports)

	manifests, err := exports.ScanForModules()
	if err != nil || manifests != nil {
		t.Fatalf("ScanForModules degraded = (%v, %v), want (nil, nil)", manifests, err)
	}
	records, err := exports.GetEnabledModules(ctx)
	if err != nil || records != nil {
		t.Fatalf("GetEnabledModules degraded = (%v, %v), want (nil, nil)", records, err)
	}
	if err := exports.EnableModule(ctx, "tasks"); err == nil {
		t.Fatal("EnableModule should fail without a manager")
	}
	if err := exports.RegisterCoreModule(ctx, "tasks", "1.0.0", "", nil); err == nil {
		t.Fatal("RegisterCoreModule should fail without a manager")
	}

	result, err := exports.ValidateCoreModules(ctx)
	if err != nil {
		t.Fatalf("ValidateCoreModules degraded: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected empty validation result, got %+v", result)
	}
}

func TestValidateCoreModules(t *testing.T) {
	svc := newTestService(t, memoryProvider)
	ctx := context.Background()

	if err := svc.Initialize(ctx, &module.Context{Logger: logger.Default()}); err != nil {
		t.Fatal(err)
	}
	exports := svc.Exports().(*Exports)

	if err := exports.RegisterPreLoadedModule(newStubModule("tasks")); err != nil {
		t.Fatal(err)
	}
	if err := exports.RegisterCoreModule(ctx, "tasks", "1.0.0", "/modules/tasks", nil); err != nil {
		t.Fatal(err)
	}

	result, err := exports.ValidateCoreModules(ctx)
	if err != nil {
		t.Fatalf("ValidateCoreModules: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", result.Warnings)
	}

	// Version drift between the row and the loaded module is a warning.
	if err := exports.DisableModule(ctx, "tasks"); err != nil {
		t.Fatal(err)
	}
	if _, err := exports.ValidateCoreModules(ctx); err == nil {
		t.Fatal("disabled core module must fail validation")
	}
	if err := exports.EnableModule(ctx, "tasks"); err != nil {
		t.Fatal(err)
	}

	// A registered-but-unpersisted core module is a structural failure.
	if err := exports.RegisterPreLoadedModule(newStubModule("ghost")); err != nil {
		t.Fatal(err)
	}
	if _, err := exports.ValidateCoreModules(ctx); err == nil {
		t.Fatal("core module without a database record must fail validation")
	}
}
