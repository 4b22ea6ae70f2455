package mirror

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the read-model mirror. The mirror runs against postgres in
// production and sqlite in tests and single-node setups.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

func defaultConfig() Config {
	cfg := Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:mirror.db"
	cfg.PollInterval = 2 * time.Second
	cfg.BatchSize = 256
	return cfg
}

// LoadConfig reads the YAML file at path, applying defaults for unset fields.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mirror config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mirror config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver and bounds.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("mirror config: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("mirror config: database dsn required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("mirror config: pollInterval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("mirror config: batchSize must be positive")
	}
	return nil
}
