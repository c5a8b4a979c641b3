package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ProjectEntry is one repository registered with sw, recorded globally so
// list and observe surfaces can enumerate projects across repos.
type ProjectEntry struct {
	ID      string    `yaml:"id"`
	Root    string    `yaml:"root"`
	AddedAt time.Time `yaml:"added_at"`
}

// ProjectsFile is the on-disk shape of the global projects registry.
type ProjectsFile struct {
	Version  int            `yaml:"version"`
	Projects []ProjectEntry `yaml:"projects"`
}

// ProjectRegistry manages ~/.config/sw/projects.yaml.
type ProjectRegistry struct {
	path string

	mu      sync.Mutex
	entries []ProjectEntry
	loaded  bool
}

// NewProjectRegistry creates a registry backed by the default path.
func NewProjectRegistry() (*ProjectRegistry, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewProjectRegistryAt(filepath.Join(dir, "projects.yaml")), nil
}

// NewProjectRegistryAt creates a registry backed by an explicit path.
func NewProjectRegistryAt(path string) *ProjectRegistry {
	return &ProjectRegistry{path: path}
}

func (r *ProjectRegistry) load() error {
	if r.loaded {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.loaded = true
			return nil
		}
		return fmt.Errorf("reading projects registry: %w", err)
	}
	var pf ProjectsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing projects registry: %w", err)
	}
	r.entries = pf.Projects
	r.loaded = true
	return nil
}

func (r *ProjectRegistry) save() error {
	pf := ProjectsFile{Version: 1, Projects: r.entries}
	data, err := yaml.Marshal(&pf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Register records a repository root, returning the existing entry when the
// root is already known.
func (r *ProjectRegistry) Register(root string) (ProjectEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return ProjectEntry{}, err
	}
	for _, e := range r.entries {
		if e.Root == root {
			return e, nil
		}
	}
	entry := ProjectEntry{
		ID:      uuid.New().String(),
		Root:    root,
		AddedAt: time.Now().UTC(),
	}
	r.entries = append(r.entries, entry)
	if err := r.save(); err != nil {
		return ProjectEntry{}, err
	}
	return entry, nil
}

// List returns all registered projects.
func (r *ProjectRegistry) List() ([]ProjectEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	out := make([]ProjectEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

// Remove drops a repository root from the registry. Removing an unknown
// root is a no-op.
func (r *ProjectRegistry) Remove(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.Root != root {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(r.entries) {
		return nil
	}
	r.entries = kept
	return r.save()
}
