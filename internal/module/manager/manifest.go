package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/systempromptio/systemprompt-os/internal/module"
)

// ManifestFileName is the per-module metadata file looked for during scans.
const ManifestFileName = "module.yaml"

// Manifest is the on-disk description of a module.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Type         string   `yaml:"type"`
	Description  string   `yaml:"description"`
	Dependencies []string `yaml:"dependencies"`

	// Path is the directory the manifest was found in. Not part of the file.
	Path string `yaml:"-"`
}

// ModuleType maps the manifest's type field onto module.Type, defaulting to
// extension for unknown values.
func (m *Manifest) ModuleType() module.Type {
	if m.Type == string(module.TypeCore) {
		return module.TypeCore
	}
	return module.TypeExtension
}

// Validate checks the structurally required manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest for %s missing version", m.Name)
	}
	return nil
}

// loadManifest parses a single manifest file.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	manifest.Path = filepath.Dir(path)
	return &manifest, nil
}
