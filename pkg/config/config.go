// Package config loads the dispatch server's YAML configuration file and
// applies environment variable overrides, mirroring the shape of the
// source system's server/task/database settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds listener addresses and on-disk layout.
type Server struct {
	Host        string  `yaml:"host"`
	CommandPort int     `yaml:"command_port"`
	FilePort    int     `yaml:"file_port"`
	DataDir     string  `yaml:"data_dir"`
	CertDir     string  `yaml:"cert_dir"`
	IdleTimeout Seconds `yaml:"idle_timeout"`
}

// Task holds docking defaults and the retry/timeout parameters the
// reclaimer uses. NumModes, EnergyRange and CPU are not read by
// `vortexdockctl create`, which falls back to its own fixed values
// (9, 3, 1) for keys missing from an archive's parameter.txt.
type Task struct {
	NumModes     int     `yaml:"num_modes"`
	EnergyRange  float64 `yaml:"energy_range"`
	CPU          int     `yaml:"cpu"`
	MaxRetries   int     `yaml:"max_retries"`
	LeaseTimeout Seconds `yaml:"lease_timeout"`
	SweepEvery   Seconds `yaml:"sweep_interval"`
}

// Database selects and configures the storage backend. Backend is
// "sqlite" (the default) or "mysql"; DSN is ignored for sqlite, which uses
// Server.DataDir instead.
type Database struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// Config is the complete top-level document.
type Config struct {
	Server   Server   `yaml:"server"`
	Task     Task     `yaml:"task"`
	Database Database `yaml:"database"`
}

// Seconds unmarshals a YAML integer number of seconds into a
// time.Duration, the way the source's TASK_CONFIG stores every interval
// as a plain integer.
type Seconds time.Duration

func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err != nil {
		return err
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// Default mirrors the source's TASK_CONFIG/SERVER_CONFIG defaults:
// num_modes=9, energy_range=3, cpu=1, max_retries=5, a heartbeat-scale
// lease timeout of 5 minutes, and a 60s reclaim cadence.
func Default() Config {
	return Config{
		Server: Server{
			Host:        "0.0.0.0",
			CommandPort: 10020,
			FilePort:    9000,
			DataDir:     "./data",
			CertDir:     "./certs",
			IdleTimeout: Seconds(5 * time.Minute),
		},
		Task: Task{
			NumModes:     9,
			EnergyRange:  3,
			CPU:          1,
			MaxRetries:   5,
			LeaseTimeout: Seconds(5 * time.Minute),
			SweepEvery:   Seconds(60 * time.Second),
		},
		Database: Database{Backend: "sqlite"},
	}
}

// Load reads path, falling back to defaults for any field the file
// doesn't set, then applies environment variable overrides. A missing
// file is not an error — it yields pure defaults, so vortexdockd can run
// from a fresh checkout with no configuration at all.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment tooling override the database DSN and
// backend without editing the checked-in YAML, mirroring how most of the
// pack's services keep secrets out of config files on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VORTEXDOCK_DB_BACKEND"); v != "" {
		cfg.Database.Backend = v
	}
	if v := os.Getenv("VORTEXDOCK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VORTEXDOCK_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("VORTEXDOCK_COMMAND_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.CommandPort = n
		}
	}
	if v := os.Getenv("VORTEXDOCK_FILE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.FilePort = n
		}
	}
}
