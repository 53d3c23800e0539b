package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort    = 8080
	DefaultHost    = "0.0.0.0"
	DefaultWorkers = 4

	// DefaultFileWriteDelay gives a slow filesystem (notably Windows) time
	// to finish flushing the new file before Load re-reads it.
	DefaultFileWriteDelay = 150 * time.Millisecond
	debounceWindow        = 500 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults: one worker
// per configured value, generous backend timeouts, and no upstreams or
// routes (a gateway with no routes is valid but answers every request with
// 400, the status of an unmatched route).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultHost,
			Port:            DefaultPort,
			Backlog:         1024,
			Workers:         DefaultWorkers,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxConnBytes:    64 << 20,
			MaxRequestBytes: 16 << 20,
			TLS: TLSConfig{
				Enabled: false,
				ALPN:    []string{"h2", "http/1.1"},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Theme:      "default",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		JWT: JWTGlobalConfig{
			JWKSRefreshInterval: 10 * time.Minute,
		},
		Version: "dev",
	}
}

// Load reads the configuration file (any format viper supports; spec §6
// specifies JSON as the primary shape) and environment variable overrides
// (TITAN_ prefix, "." replaced with "_"), merges them onto DefaultConfig,
// and optionally watches the file for changes. It does not validate or
// build a Snapshot — callers compose Load with Validate and Build (or use
// Manager.Load, which does all three atomically).
func Load(path string, onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TITAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !configFileMissing(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if envFile := os.Getenv("TITAN_CONFIG_FILE"); envFile != "" {
			v.SetConfigFile(envFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", envFile, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if onConfigChange != nil {
		v.WatchConfig()
		v.OnConfigChange(func(_ fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < debounceWindow {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// configFileMissing reports whether err means "no config file present",
// which Load treats as fine (DefaultConfig plus env overrides apply). Viper
// returns ConfigFileNotFoundError only when searching by name across paths;
// an explicit SetConfigFile path instead surfaces the underlying os error.
func configFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist)
}
