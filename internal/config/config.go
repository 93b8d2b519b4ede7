package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the shared TCP+UDP port the server binds to.
	DefaultPort = 7777
	// DefaultHost is the address a client connects to.
	DefaultHost = "127.0.0.1"
	// DefaultPlayerName is used by the dev client when no name is configured.
	DefaultPlayerName = "Player1"

	// DefaultTickHz is the authoritative simulation rate.
	DefaultTickHz = 20
	// DefaultSnapshotHz is the snapshot broadcast rate.
	DefaultSnapshotHz = 20

	// DefaultOpsAddr exposes the operational HTTP endpoint. Empty disables it.
	DefaultOpsAddr = ":8780"

	// DefaultLogLevel controls verbosity for netcore logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "netcore.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the netcode subsystem.
type Config struct {
	Host       string
	Port       int
	PlayerName string
	TickHz     int
	SnapshotHz int
	OpsAddr    string
	ReplayDir  string
	// SpectateSecret, when set, gates the websocket spectator feed behind
	// signed tokens.
	SpectateSecret string
	Logging        LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the netcore configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Host:           getString("NETCORE_HOST", DefaultHost),
		Port:           DefaultPort,
		PlayerName:     getString("NETCORE_PLAYER_NAME", DefaultPlayerName),
		TickHz:         DefaultTickHz,
		SnapshotHz:     DefaultSnapshotHz,
		OpsAddr:        strings.TrimSpace(envOr("NETCORE_OPS_ADDR", DefaultOpsAddr)),
		ReplayDir:      strings.TrimSpace(os.Getenv("NETCORE_REPLAY_DIR")),
		SpectateSecret: strings.TrimSpace(os.Getenv("NETCORE_SPECTATE_SECRET")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("NETCORE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("NETCORE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("NETCORE_PORT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 65535 {
			problems = append(problems, fmt.Sprintf("NETCORE_PORT must be a valid port number, got %q", raw))
		} else {
			cfg.Port = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_TICK_HZ")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_TICK_HZ must be a positive integer, got %q", raw))
		} else {
			cfg.TickHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_SNAPSHOT_HZ")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_SNAPSHOT_HZ must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if cfg.SnapshotHz > cfg.TickHz {
		problems = append(problems, fmt.Sprintf("NETCORE_SNAPSHOT_HZ (%d) must not exceed NETCORE_TICK_HZ (%d)", cfg.SnapshotHz, cfg.TickHz))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// envOr distinguishes "unset" from "set to empty": an explicitly empty value
// disables the feature instead of falling back to the default.
func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
