package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"webhook-trader/pkg/db"
)

// Config represents one strategy entry in the YAML seed file.
type Config struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Pair  string `yaml:"pair"`
	Venue string `yaml:"venue"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy seeds from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Strategies, nil
}

// SyncConfigToDB upserts seed strategies into the database. Run state and
// accumulated performance of existing rows are preserved.
func SyncConfigToDB(ctx context.Context, database *db.Database, configs []Config) error {
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Name == "" || cfg.Pair == "" {
			return fmt.Errorf("strategy seed %q: id, name and pair are required", cfg.Name)
		}
		venue := cfg.Venue
		if venue == "" {
			venue = "paper"
		}
		err := database.UpsertStrategy(ctx, db.Strategy{
			ID:    cfg.ID,
			Name:  cfg.Name,
			Pair:  cfg.Pair,
			Venue: venue,
			State: string(StateActive),
		})
		if err != nil {
			return fmt.Errorf("upsert strategy %s: %w", cfg.ID, err)
		}
	}
	return nil
}
