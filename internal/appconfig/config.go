package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Listen string `toml:"listen"`
	Port   int    `toml:"port"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type ReplicationConfig struct {
	SlotName    string `toml:"slot_name"`
	Publication string `toml:"publication"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the on-disk configuration for the dashboard server: where it
// listens, which slot/publication it reports on by default, and how it
// logs. ReplicationSession construction parameters proper (protocol
// version, start LSN, custom messages) are left to the CLI flags in
// internal/config, since they are per-invocation rather than per-host.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Replication ReplicationConfig `toml:"replication"`
	Logging     LoggingConfig     `toml:"logging"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen: "127.0.0.1",
			Port:   8090,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/postgres?sslmode=disable",
		},
		Replication: ReplicationConfig{
			SlotName:    "pgreplicate",
			Publication: "pgreplicate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pgreplicate", "config.toml"))
	}
	candidates = append(candidates, "/etc/pgreplicate/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PGREPLICATE_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("PGREPLICATE_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PGREPLICATE_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PGREPLICATE_SLOT_NAME"); v != "" {
		cfg.Replication.SlotName = v
	}
	if v := os.Getenv("PGREPLICATE_PUBLICATION"); v != "" {
		cfg.Replication.Publication = v
	}
	if v := os.Getenv("PGREPLICATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PGREPLICATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
