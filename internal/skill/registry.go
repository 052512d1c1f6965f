package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxDefinitionFileSize bounds a single skill definition file.
const maxDefinitionFileSize = 1024 * 1024

// Registry holds skill definitions keyed by id. It replaces ambient
// process-wide state: the registry is constructed explicitly and handed to
// the orchestrator. Definitions are read-only once registered.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger
	skills map[string]*Skill
}

// NewRegistry creates an empty skill registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		skills: make(map[string]*Skill),
	}
}

// Register validates and adds a skill definition. Re-registering an id
// replaces the previous definition.
func (r *Registry) Register(s *Skill) error {
	if s == nil {
		return fmt.Errorf("skill is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.skills[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("registered skill",
		zap.String("id", s.ID),
		zap.String("risk_level", string(s.RiskLevel)),
		zap.Int("steps", len(s.Steps)),
	)
	return nil
}

// Get returns a skill by id.
func (r *Registry) Get(id string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.skills[id]
	if !ok {
		return nil, fmt.Errorf("skill %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// List returns all registered skills sorted by id.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir loads every .yaml/.yml skill definition under dir (non-recursive)
// and returns the number registered. A malformed definition aborts the load.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read skill directory %s: %w", dir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		s, err := LoadFile(path)
		if err != nil {
			return count, err
		}
		if err := r.Register(s); err != nil {
			return count, fmt.Errorf("register %s: %w", path, err)
		}
		count++
	}

	r.logger.Info("loaded skill definitions",
		zap.String("dir", dir),
		zap.Int("count", count),
	)
	return count, nil
}

// LoadFile parses and validates a single YAML skill definition.
func LoadFile(path string) (*Skill, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxDefinitionFileSize {
		return nil, fmt.Errorf("skill definition %s exceeds %d bytes", path, maxDefinitionFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return &s, nil
}
