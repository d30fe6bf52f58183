// Package conf resolves process configuration from, in order of precedence,
// environment variables (BTCMAP_*), an optional config.yaml, and built-in
// defaults. Runtime settings that operators change while the daemon runs
// (prices, provider keys) live in the conf database table instead.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at process startup, before anything reads a key.
func Initialize() error {
	// Local .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml.
	// Precedence: $BTCMAP_CONFIG > <data-dir>/config.yaml > ~/.config/btcmap/config.yaml
	configFileSet := false

	if path := os.Getenv("BTCMAP_CONFIG"); path != "" {
		v.SetConfigFile(path)
		configFileSet = true
	}

	if !configFileSet {
		if dir := dataDirFromEnv(); dir != "" {
			configPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "btcmap", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g. BTCMAP_HTTP_ADDR maps to the "http-addr" key.
	v.SetEnvPrefix("BTCMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data-dir", "")
	v.SetDefault("http-addr", "127.0.0.1:8000")
	v.SetDefault("shutdown-timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "") // empty means <data-dir>/btcmap.log

	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout", "5m")
	v.SetDefault("osm.api-url", "https://api.openstreetmap.org")

	v.SetDefault("lnbits.url", "https://legend.lnbits.com")
	v.SetDefault("lnd.url", "")

	v.SetDefault("gitea.url", "https://gitea.btcmap.org")
	v.SetDefault("gitea.repo", "teambtcmap/btcmap-general")
	v.SetDefault("matrix.url", "https://matrix.org")

	// Abuse controls for the public HTTP surface.
	v.SetDefault("rate.rps", 25)
	v.SetDefault("rate.burst", 50)

	v.SetDefault("no-jobs", false)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}

// dataDirFromEnv resolves the data dir without touching viper, for use
// during Initialize before the singleton exists.
func dataDirFromEnv() string {
	return os.Getenv("BTCMAP_DATA_DIR")
}

// DataDir returns the directory holding the databases and log file,
// creating it if needed. Default is ~/.btcmap.
func DataDir() (string, error) {
	dir := GetString("data-dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".btcmap")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	return dir, nil
}

// DatabasePath returns the primary database path inside the data dir.
func DatabasePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "btcmap.db"), nil
}

// RequestLogPath returns the request audit database path inside the data dir.
func RequestLogPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "log.db"), nil
}

// LogFilePath returns the structured log destination.
func LogFilePath() (string, error) {
	if path := GetString("log.file"); path != "" {
		return path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "btcmap.log"), nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value, overriding every other source.
// Used by CLI flags and tests.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}
