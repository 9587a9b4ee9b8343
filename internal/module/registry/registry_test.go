package registry

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/module"
)

type stubModule struct {
	module.Base
}

func newStubModule(name string) *stubModule {
	return &stubModule{Base: module.NewBase(name, "1.0.0", module.TypeExtension, nil)}
}

func (s *stubModule) Initialize(ctx context.Context, mctx *module.Context) error { return nil }
func (s *stubModule) Start(ctx context.Context) error                            { return nil }
func (s *stubModule) Stop(ctx context.Context) error                             { return nil }
func (s *stubModule) HealthCheck(ctx context.Context) module.HealthStatus {
	return module.HealthStatus{Healthy: true}
}
func (s *stubModule) Exports() interface{} { return nil }

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	m := newStubModule("alpha")

	if err := reg.Register(m); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got := reg.Get("alpha"); got != m {
		t.Error("Get returned wrong module")
	}
	if !reg.Has("alpha") {
		t.Error("Has should report registered module")
	}
	if reg.Len() != 1 {
		t.Errorf("expected Len() = 1, got %d", reg.Len())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newStubModule("alpha")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := reg.Register(newStubModule("alpha"))
	if !stderrors.Is(err, errors.ErrDuplicateModule) {
		t.Fatalf("expected ErrDuplicateModule, got %v", err)
	}
}

func TestGetUnknownReturnsNil(t *testing.T) {
	reg := NewRegistry()
	if got := reg.Get("ghost"); got != nil {
		t.Errorf("expected nil for unknown module, got %v", got)
	}
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newStubModule("alpha"))

	reg.Unregister("alpha")
	if reg.Has("alpha") {
		t.Error("module should be gone after Unregister")
	}

	// Unregistering a missing module is a no-op.
	reg.Unregister("ghost")
}

func TestGetAllReturnsSnapshot(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newStubModule("a"))
	_ = reg.Register(newStubModule("b"))

	all := reg.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(all))
	}

	// Mutating the snapshot must not affect the registry.
	delete(all, "a")
	if !reg.Has("a") {
		t.Error("registry should be unaffected by snapshot mutation")
	}
}
