package policy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Policies []Config `yaml:"policies"`
}

// LoadSeedFile parses a YAML file of persona policies. Every entry is
// validated; the first invalid entry fails the whole file.
func LoadSeedFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("policy: parse seed file: %w", err)
	}
	out := make([]Config, 0, len(seed.Policies))
	for i, cfg := range seed.Policies {
		cfg = cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("policy: seed entry %d: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Seed writes every policy from path into store.
func Seed(ctx context.Context, store Store, path string) (int, error) {
	policies, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, cfg := range policies {
		if err := store.Put(ctx, cfg); err != nil {
			return 0, fmt.Errorf("policy: seed %s: %w", cfg.PersonaID, err)
		}
	}
	return len(policies), nil
}
