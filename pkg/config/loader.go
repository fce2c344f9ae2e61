package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoadGlobal reads a global model configuration file (if present) and
// merges it over the built-in defaults, the override winning on any field
// it sets.
func LoadGlobal(path string) (*GlobalConfig, error) {
	cfg := defaultGlobalConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("global model config not found, using built-in defaults", "path", path)
			return &cfg, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	var userCfg GlobalConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &userCfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(&cfg, userCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge global config: %w", err)
	}

	slog.Info("loaded global model config", "path", path, "models", len(cfg.Models), "chairman", cfg.Chairman)
	return &cfg, nil
}

// LoadCouncils reads every *.yaml file in dir as a Council, keyed by
// filename stem.
func LoadCouncils(dir string) (map[string]*Council, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("councils directory not found", "dir", dir)
			return map[string]*Council{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	councils := make(map[string]*Council, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}

		var c Council
		if err := yaml.Unmarshal(ExpandEnv(data), &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, entry.Name(), err)
		}
		if err := validateCouncil(&c); err != nil {
			return nil, &ValidationError{Council: c.Name, Err: err}
		}

		stem := strings.TrimSuffix(entry.Name(), ".yaml")
		councils[stem] = &c
	}

	slog.Info("loaded councils", "dir", dir, "count", len(councils))
	return councils, nil
}

// validateCouncil enforces the Council invariants: persona ids unique,
// rubric names unique, 1 <= min <= default <= max <= |personas|.
func validateCouncil(c *Council) error {
	seenPersonas := make(map[string]bool, len(c.Personas))
	for _, p := range c.Personas {
		if seenPersonas[p.ID] {
			return fmt.Errorf("duplicate persona id %q", p.ID)
		}
		seenPersonas[p.ID] = true
	}

	seenCriteria := make(map[string]bool, len(c.Rubric))
	for _, r := range c.Rubric {
		if seenCriteria[r.Name] {
			return fmt.Errorf("duplicate rubric criterion %q", r.Name)
		}
		seenCriteria[r.Name] = true
		if r.Weight <= 0 || r.Weight > 1 {
			return fmt.Errorf("rubric criterion %q weight %v out of (0,1]", r.Name, r.Weight)
		}
	}

	routing := c.Routing
	if !(1 <= routing.MinAdvisors &&
		routing.MinAdvisors <= routing.DefaultAdvisors &&
		routing.DefaultAdvisors <= routing.MaxAdvisors &&
		routing.MaxAdvisors <= len(c.Personas)) {
		return fmt.Errorf("routing policy violates 1<=min<=default<=max<=|personas|: %+v (personas=%d)",
			routing, len(c.Personas))
	}
	return nil
}
