package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/formkeep/internal/db"
	"github.com/spf13/viper"
)

// Storage backends understood by Config.Storage.Backend.
const (
	BackendFilesystem = "fs"
	BackendPostgres   = "postgres"
)

// StorageConfig selects where form documents and the history index live.
type StorageConfig struct {
	Backend       string
	Dir           string
	AtomicHistory bool
}

// AutosaveConfig holds the debounce and submit timings, in milliseconds.
type AutosaveConfig struct {
	DelayMS           int
	PollIntervalMS    int
	InFlightWaitMS    int
	SubmitRaceMS      int
	SubmitCeilingMS   int
	SubmitGraceMS     int
	SubmitWaitForSave bool
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Config is the full application configuration.
type Config struct {
	Storage  StorageConfig
	Database db.Config
	Autosave AutosaveConfig
	Server   ServerConfig
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendFilesystem,
			Dir:     "./data",
		},
		Database: db.DefaultConfig(),
		Autosave: AutosaveConfig{
			DelayMS:           1500,
			PollIntervalMS:    50,
			InFlightWaitMS:    5000,
			SubmitRaceMS:      1200,
			SubmitCeilingMS:   10000,
			SubmitGraceMS:     400,
			SubmitWaitForSave: true,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Duration converts a millisecond setting to a time.Duration.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("FORMKEEP") // FORMKEEP_STORAGE_DIR, FORMKEEP_DATABASE_HOST, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads config.yaml from configPath (when present) and applies env overrides on top of Default.
func Load(configPath string) (Config, error) {
	cfg := Default()
	v := newViper(configPath)

	for _, key := range []string{
		"storage.backend", "storage.dir", "storage.atomic_history",
		"database.host", "database.port", "database.user", "database.password", "database.dbname", "database.sslmode",
		"autosave.delay_ms", "autosave.poll_interval_ms", "autosave.inflight_wait_ms",
		"submit.race_ms", "submit.ceiling_ms", "submit.grace_ms", "submit.wait_for_save",
		"server.addr", "server.allowed_origins",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if v.IsSet("storage.backend") {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v.GetString("storage.backend")))
	}
	if v.IsSet("storage.dir") {
		cfg.Storage.Dir = v.GetString("storage.dir")
	}
	if v.IsSet("storage.atomic_history") {
		cfg.Storage.AtomicHistory = v.GetBool("storage.atomic_history")
	}

	cfg.Database = applyDatabase(v, cfg.Database)

	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setInt("autosave.delay_ms", &cfg.Autosave.DelayMS)
	setInt("autosave.poll_interval_ms", &cfg.Autosave.PollIntervalMS)
	setInt("autosave.inflight_wait_ms", &cfg.Autosave.InFlightWaitMS)
	setInt("submit.race_ms", &cfg.Autosave.SubmitRaceMS)
	setInt("submit.ceiling_ms", &cfg.Autosave.SubmitCeilingMS)
	setInt("submit.grace_ms", &cfg.Autosave.SubmitGraceMS)
	if v.IsSet("submit.wait_for_save") {
		cfg.Autosave.SubmitWaitForSave = v.GetBool("submit.wait_for_save")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the application cannot work with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFilesystem:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return fmt.Errorf("storage.dir is required for the %s backend", BackendFilesystem)
		}
	case BackendPostgres:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.AtomicHistory && c.Storage.Backend != BackendPostgres {
		return fmt.Errorf("storage.atomic_history requires the %s backend", BackendPostgres)
	}
	for name, ms := range map[string]int{
		"autosave.delay_ms":         c.Autosave.DelayMS,
		"autosave.poll_interval_ms": c.Autosave.PollIntervalMS,
		"autosave.inflight_wait_ms": c.Autosave.InFlightWaitMS,
		"submit.race_ms":            c.Autosave.SubmitRaceMS,
		"submit.ceiling_ms":         c.Autosave.SubmitCeilingMS,
	} {
		if ms <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, ms)
		}
	}
	if c.Autosave.SubmitGraceMS < 0 {
		return fmt.Errorf("submit.grace_ms must not be negative, got %d", c.Autosave.SubmitGraceMS)
	}
	return nil
}

// LoadDBConfig loads only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	v := newViper(configPath)
	for _, key := range []string{"database.host", "database.port", "database.user", "database.password", "database.dbname", "database.sslmode"} {
		if err := v.BindEnv(key); err != nil {
			return db.Config{}, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return db.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return applyDatabase(v, db.DefaultConfig()), nil
}

func applyDatabase(v *viper.Viper, cfg db.Config) db.Config {
	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}
	return cfg
}
