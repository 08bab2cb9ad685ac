// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Storage StorageConfig
	Crisis  CrisisConfig
	Chat    ChatConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the management routes. Empty disables auth, which is
	// only acceptable for local development.
	APIToken string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	DataDir string
}

type CrisisConfig struct {
	// SeverityPriority switches rule matching from first-match-wins to
	// highest-severity-wins.
	SeverityPriority bool
}

type ChatConfig struct {
	// Language the assistant is instructed to answer in.
	Language string
}

type LogConfig struct {
	Level string
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-1.5-flash",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chat: ChatConfig{
			Language: "português brasileiro",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "amparo")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "amparo")
}

// Load reads configuration from AMPARO_* environment variables over
// defaults. A .env file in the working directory is applied first when
// present; a missing one is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(os.Getenv)
}

func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("AMPARO_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AMPARO_SERVER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("AMPARO_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := getenv("AMPARO_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := getenv("AMPARO_GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := getenv("AMPARO_GEMINI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AMPARO_GEMINI_TIMEOUT %q: %w", v, err)
		}
		cfg.Gemini.Timeout = d
	}
	if v := getenv("AMPARO_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("AMPARO_CRISIS_SEVERITY_PRIORITY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AMPARO_CRISIS_SEVERITY_PRIORITY %q: %w", v, err)
		}
		cfg.Crisis.SeverityPriority = b
	}
	if v := getenv("AMPARO_CHAT_LANGUAGE"); v != "" {
		cfg.Chat.Language = v
	}
	if v := getenv("AMPARO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable AMPARO_GEMINI_API_KEY or in .env")
	}

	return cfg, nil
}
