// Package config manages the station's configuration using koanf/v2.
//
// Supports the §6 key-value ("INI" shape) file, environment variable
// overrides, and sensible built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete station configuration (§6).
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Database  DatabaseConfig   `koanf:"database"`
	ANS       ANSConfig        `koanf:"ans"`
	Neighbors []NeighborConfig `koanf:"neighbors"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Log       LogConfig        `koanf:"log"`
}

// ServerConfig holds the listen address the Gate accepts mtp/mars/ws
// connections on (§6 `server{host,port}`).
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Addr renders ServerConfig as a "host:port" listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the persisted-state root directories (§6
// `database{root,public,private}`; §6 "Persisted state layout").
type DatabaseConfig struct {
	Root    string `koanf:"root"`
	Public  string `koanf:"public"`
	Private string `koanf:"private"`
}

// ANSConfig holds the station's well-known name registry (§6
// `ans{station,<name>=<ID>…}`): the reserved "station" key names this
// station's own identifier, and every other key is a name -> ID mapping
// consulted by the ans(query/respond) local command.
type ANSConfig map[string]string

// StationID returns the configured local station identifier.
func (a ANSConfig) StationID() string {
	return a["station"]
}

// Resolve looks up a configured well-known name (e.g. "archivist").
func (a ANSConfig) Resolve(name string) (string, bool) {
	if name == "station" {
		return "", false
	}
	id, ok := a[name]
	return id, ok
}

// Names returns the configured name->ID entries, excluding the
// reserved "station" key.
func (a ANSConfig) Names() map[string]string {
	out := make(map[string]string, len(a))
	for k, v := range a {
		if k == "station" {
			continue
		}
		out[k] = v
	}
	return out
}

// NeighborConfig describes one configured peer station entry (§3
// "Neighbor & provider tables", §6 `neighbors[]`).
type NeighborConfig struct {
	ID       string `koanf:"id"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Provider string `koanf:"provider"`
	Chosen   int    `koanf:"chosen"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. Every
// field a boot-time file or environment override omits inherits these.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9394,
		},
		Database: DatabaseConfig{
			Root:    "/var/lib/dim-station",
			Public:  "/var/lib/dim-station/public",
			Private: "/var/lib/dim-station/private",
		},
		ANS: ANSConfig{},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for station configuration.
// Variables are named STATION_<section>_<key>, e.g., STATION_SERVER_PORT.
const envPrefix = "STATION_"

// Load reads configuration from the §6 key-value file at path, overlays
// environment variable overrides (STATION_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	STATION_SERVER_HOST    -> server.host
//	STATION_SERVER_PORT    -> server.port
//	STATION_DATABASE_ROOT  -> database.root
//	STATION_LOG_LEVEL      -> log.level
//	STATION_LOG_FORMAT     -> log.format
//
// Uses koanf/v2 with file + env providers and the station's iniParser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), IniParser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms STATION_SERVER_PORT -> server.port.
// Strips the STATION_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.host":   defaults.Server.Host,
		"server.port":   strconv.Itoa(defaults.Server.Port),
		"database.root": defaults.Database.Root,
		"database.public": defaults.Database.Public,
		"database.private": defaults.Database.Private,
		"metrics.addr":  defaults.Metrics.Addr,
		"metrics.path":  defaults.Metrics.Path,
		"log.level":     defaults.Log.Level,
		"log.format":    defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyServerHost indicates the server listen host is empty.
	ErrEmptyServerHost = errors.New("server.host must not be empty")

	// ErrInvalidServerPort indicates the server listen port is out of range.
	ErrInvalidServerPort = errors.New("server.port must be between 1 and 65535")

	// ErrEmptyDatabaseRoot indicates the database root directory is empty.
	ErrEmptyDatabaseRoot = errors.New("database.root must not be empty")

	// ErrMissingStationID indicates ans.station is unset.
	ErrMissingStationID = errors.New("ans.station must name this station's own identifier")

	// ErrInvalidNeighbor indicates a neighbors[] entry is missing a field.
	ErrInvalidNeighbor = errors.New("neighbor entry requires id, host, and port")

	// ErrDuplicateNeighbor indicates two neighbors[] entries share an ID.
	ErrDuplicateNeighbor = errors.New("duplicate neighbor id")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return ErrEmptyServerHost
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return ErrInvalidServerPort
	}
	if cfg.Database.Root == "" {
		return ErrEmptyDatabaseRoot
	}
	if cfg.ANS.StationID() == "" {
		return ErrMissingStationID
	}
	if err := validateNeighbors(cfg.Neighbors); err != nil {
		return err
	}
	return nil
}

// validateNeighbors checks each configured neighbor entry for completeness
// and uniqueness.
func validateNeighbors(neighbors []NeighborConfig) error {
	seen := make(map[string]struct{}, len(neighbors))
	for i, n := range neighbors {
		if n.ID == "" || n.Host == "" || n.Port == 0 {
			return fmt.Errorf("neighbors[%d]: %w", i, ErrInvalidNeighbor)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("neighbors[%d] id %q: %w", i, n.ID, ErrDuplicateNeighbor)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
