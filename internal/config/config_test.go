package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dim-network/station/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}

	if cfg.Server.Port != 9394 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9394)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	// DefaultConfig has no ans.station set, so it must fail validation
	// until the caller supplies one (§6: "consumed at boot only").
	if err := config.Validate(cfg); !errors.Is(err, config.ErrMissingStationID) {
		t.Errorf("Validate(DefaultConfig()) = %v, want %v", err, config.ErrMissingStationID)
	}
}

func TestLoadFromIni(t *testing.T) {
	t.Parallel()

	content := `
[server]
host = 127.0.0.1
port = 9395

[database]
root = /tmp/dim
public = /tmp/dim/public
private = /tmp/dim/private

[ans]
station = gsp-station@anywhere
archivist = archivist@anywhere

[neighbors]
id = station2@anywhere
host = 10.0.0.2
port = 9394
provider = isp1
chosen = 1

[neighbors]
id = station3@anywhere
host = 10.0.0.3
port = 9394
provider = isp1
chosen = 2
`
	path := writeTemp(t, content)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9395 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9395)
	}
	if cfg.Database.Root != "/tmp/dim" {
		t.Errorf("Database.Root = %q, want %q", cfg.Database.Root, "/tmp/dim")
	}
	if cfg.ANS.StationID() != "gsp-station@anywhere" {
		t.Errorf("ANS.StationID() = %q, want %q", cfg.ANS.StationID(), "gsp-station@anywhere")
	}
	if id, ok := cfg.ANS.Resolve("archivist"); !ok || id != "archivist@anywhere" {
		t.Errorf("ANS.Resolve(archivist) = (%q, %v), want (archivist@anywhere, true)", id, ok)
	}

	if len(cfg.Neighbors) != 2 {
		t.Fatalf("Neighbors count = %d, want 2", len(cfg.Neighbors))
	}
	if cfg.Neighbors[0].ID != "station2@anywhere" || cfg.Neighbors[0].Port != 9394 {
		t.Errorf("Neighbors[0] = %+v, unexpected", cfg.Neighbors[0])
	}
	if cfg.Neighbors[1].ID != "station3@anywhere" {
		t.Errorf("Neighbors[1] = %+v, unexpected", cfg.Neighbors[1])
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial file: only override server.port and ans.station.
	// Everything else should inherit from DefaultConfig().
	content := `
[server]
port = 7000

[ans]
station = gsp-station@anywhere
`
	path := writeTemp(t, content)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7000)
	}

	// Default values should be preserved.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.ANS = config.ANSConfig{"station": "gsp-station@anywhere"}
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty server host",
			modify: func(cfg *config.Config) {
				cfg.Server.Host = ""
			},
			wantErr: config.ErrEmptyServerHost,
		},
		{
			name: "invalid server port",
			modify: func(cfg *config.Config) {
				cfg.Server.Port = 0
			},
			wantErr: config.ErrInvalidServerPort,
		},
		{
			name: "port out of range",
			modify: func(cfg *config.Config) {
				cfg.Server.Port = 70000
			},
			wantErr: config.ErrInvalidServerPort,
		},
		{
			name: "empty database root",
			modify: func(cfg *config.Config) {
				cfg.Database.Root = ""
			},
			wantErr: config.ErrEmptyDatabaseRoot,
		},
		{
			name: "missing station id",
			modify: func(cfg *config.Config) {
				cfg.ANS = config.ANSConfig{}
			},
			wantErr: config.ErrMissingStationID,
		},
		{
			name: "incomplete neighbor",
			modify: func(cfg *config.Config) {
				cfg.Neighbors = []config.NeighborConfig{{ID: "station2@anywhere"}}
			},
			wantErr: config.ErrInvalidNeighbor,
		},
		{
			name: "duplicate neighbor id",
			modify: func(cfg *config.Config) {
				cfg.Neighbors = []config.NeighborConfig{
					{ID: "station2@anywhere", Host: "10.0.0.2", Port: 9394},
					{ID: "station2@anywhere", Host: "10.0.0.3", Port: 9394},
				}
			},
			wantErr: config.ErrDuplicateNeighbor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/station.conf")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	content := `
[ans]
station = gsp-station@anywhere
`
	path := writeTemp(t, content)

	t.Setenv("STATION_SERVER_PORT", "9500")
	t.Setenv("STATION_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Server.Port != 9500 {
		t.Errorf("Server.Port = %d, want %d (from env)", cfg.Server.Port, 9500)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

// writeTemp creates a temporary station config file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "station.conf")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
