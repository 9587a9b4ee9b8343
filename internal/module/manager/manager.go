// Package manager bridges the on-disk manifest world and the database world
// for modules: discovery, persisted enable/disable state, and core-module
// validation.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
	"github.com/systempromptio/systemprompt-os/internal/module"
)

// Manager tracks discovered modules and their persisted enabled state.
type Manager struct {
	store    Store
	eventBus bus.EventBus
	logger   *logger.Logger

	// modulesDir is the root scanned for module manifests.
	modulesDir string
}

// NewManager creates a module manager over the given record store.
func NewManager(store Store, modulesDir string, eventBus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		store:      store,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "module-manager")),
		modulesDir: modulesDir,
	}
}

// ScanForModules walks the configured modules directory looking for manifest
// files one level deep (modulesDir/<name>/module.yaml). Unparseable manifests
// are logged and skipped; a missing directory yields an empty result.
func (m *Manager) ScanForModules() ([]*Manifest, error) {
	entries, err := os.ReadDir(m.modulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Debug("modules directory does not exist", zap.String("dir", m.modulesDir))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read modules directory %s: %w", m.modulesDir, err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(m.modulesDir, entry.Name(), ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		manifest, err := loadManifest(manifestPath)
		if err != nil {
			m.logger.Warn("skipping invalid module manifest",
				zap.String("path", manifestPath),
				zap.Error(err))
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })

	m.logger.Info("scanned for modules",
		zap.String("dir", m.modulesDir),
		zap.Int("found", len(manifests)))
	return manifests, nil
}

// RegisterCoreModule persists a CORE module row if one is not already
// present. An existing row is left untouched so administrative enable state
// survives restarts.
func (m *Manager) RegisterCoreModule(ctx context.Context, name, version, path string, dependencies []string) error {
	existing, err := m.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up module %s: %w", name, err)
	}
	if existing != nil {
		m.logger.Debug("core module already registered", zap.String("module", name))
		return nil
	}

	record := &Record{
		Name:         name,
		Version:      version,
		Type:         module.TypeCore,
		Path:         path,
		Dependencies: dependencies,
		Enabled:      true,
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to persist core module %s: %w", name, err)
	}

	m.logger.Info("registered core module",
		zap.String("module", name),
		zap.String("version", version))
	return nil
}

// EnableModule marks a module enabled.
func (m *Manager) EnableModule(ctx context.Context, name string) error {
	if err := m.store.SetEnabled(ctx, name, true); err != nil {
		return err
	}
	m.publish(ctx, events.ModuleEnabled, name)
	return nil
}

// DisableModule marks a module disabled. Disabled modules are excluded from
// GetEnabledModules and from the façade's enabled-gated lookups immediately.
func (m *Manager) DisableModule(ctx context.Context, name string) error {
	if err := m.store.SetEnabled(ctx, name, false); err != nil {
		return err
	}
	m.publish(ctx, events.ModuleDisabled, name)
	return nil
}

// GetModule returns the persisted record for name, or nil when absent.
// Absence is not an error; callers that require presence handle nil.
func (m *Manager) GetModule(ctx context.Context, name string) (*Record, error) {
	return m.store.Get(ctx, name)
}

// GetEnabledModules returns all persisted records with the enabled flag set.
func (m *Manager) GetEnabledModules(ctx context.Context) ([]*Record, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	enabled := make([]*Record, 0, len(records))
	for _, record := range records {
		if record.Enabled {
			enabled = append(enabled, record)
		}
	}
	return enabled, nil
}

// ValidationResult carries the outcome of ValidateCoreModules: drift is
// reported as warnings, structural inconsistency raises an error instead.
type ValidationResult struct {
	Warnings []string
}

// ValidateCoreModules cross-checks each registered core module against its
// database row and, when the module directory carries a manifest, against the
// on-disk manifest.
//
// Structural conditions (module missing from the database, disabled in the
// database, wrong type) fail with an error. Manifest drift (version or
// dependency list mismatch) is tolerated and collected as warnings.
func (m *Manager) ValidateCoreModules(ctx context.Context, registered map[string]module.Module) (*ValidationResult, error) {
	result := &ValidationResult{}

	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mod := registered[name]
		if mod.ModuleType() != module.TypeCore {
			continue
		}

		record, err := m.store.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up core module %s: %w", name, err)
		}
		if record == nil {
			return nil, fmt.Errorf("core module %s has no database record", name)
		}
		if !record.Enabled {
			return nil, fmt.Errorf("core module %s is disabled in the database", name)
		}
		if record.Type != module.TypeCore {
			return nil, fmt.Errorf("core module %s has type %s in the database", name, record.Type)
		}

		if record.Version != mod.Version() {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"module %s: version drift (db %s, loaded %s)", name, record.Version, mod.Version()))
		}
		if !sameStringSet(record.Dependencies, mod.Dependencies()) {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"module %s: dependency drift (db %v, loaded %v)", name, record.Dependencies, mod.Dependencies()))
		}

		if record.Path != "" {
			manifestPath := filepath.Join(record.Path, ManifestFileName)
			if _, statErr := os.Stat(manifestPath); statErr == nil {
				manifest, mErr := loadManifest(manifestPath)
				if mErr != nil {
					result.Warnings = append(result.Warnings, fmt.Sprintf(
						"module %s: unreadable manifest: %v", name, mErr))
				} else if manifest.Version != record.Version {
					result.Warnings = append(result.Warnings, fmt.Sprintf(
						"module %s: manifest drift (manifest %s, db %s)", name, manifest.Version, record.Version))
				}
			}
		}
	}

	for _, warning := range result.Warnings {
		m.logger.Warn("core module validation warning", zap.String("warning", warning))
	}
	return result, nil
}

func (m *Manager) publish(ctx context.Context, eventType, name string) {
	if m.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "module-manager", map[string]interface{}{
		"module": name,
	})
	if err := m.eventBus.Publish(ctx, eventType, event); err != nil {
		m.logger.Error("failed to publish module event",
			zap.String("event_type", eventType),
			zap.String("module", name),
			zap.Error(err))
	}
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}
