// Package config loads the gateway's environment-variable surface using
// Viper, the same precedence (explicit bind over SetDefault) the wider
// codebase uses for its own configuration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qrwc/gateway/errors"
)

// Config is the fully-resolved environment-variable surface.
type Config struct {
	EventMonitoringEnabled       bool
	EventMonitoringDBPath        string
	EventMonitoringRetentionDays int
	EventMonitoringBufferSize    int
	EventMonitoringFlushInterval time.Duration
	EventBackupPath              string
	EventMaxBackups              int
	EventBackupInterval          time.Duration
	MCPMode                      string
	LogLevel                     string

	QSYSHost string
	QSYSPort int
}

var globalConfig *Config

// Load reads the gateway's configuration from the environment, applying
// SetDefaults first so every recognized variable has a documented fallback
// even when unset. Repeated calls return the cached result; use Reset in
// tests that need a fresh load.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := newViper()

	cfg := &Config{
		EventMonitoringEnabled:       v.GetBool("event_monitoring.enabled"),
		EventMonitoringDBPath:        v.GetString("event_monitoring.db_path"),
		EventMonitoringRetentionDays: v.GetInt("event_monitoring.retention_days"),
		EventMonitoringBufferSize:    v.GetInt("event_monitoring.buffer_size"),
		EventMonitoringFlushInterval: time.Duration(v.GetInt("event_monitoring.flush_interval_ms")) * time.Millisecond,
		EventBackupPath:              v.GetString("event_backup.path"),
		EventMaxBackups:              v.GetInt("event_backup.max_backups"),
		EventBackupInterval:          time.Duration(v.GetInt64("event_backup.interval_ms")) * time.Millisecond,
		MCPMode:                      v.GetString("mcp.mode"),
		LogLevel:                     v.GetString("log.level"),
		QSYSHost:                     v.GetString("qsys.host"),
		QSYSPort:                     v.GetInt("qsys.port"),
	}

	if cfg.EventMonitoringRetentionDays <= 0 {
		return nil, errors.NewCategory(errors.CategoryValidationFailed, "EVENT_MONITORING_RETENTION_DAYS must be positive")
	}

	globalConfig = cfg
	return globalConfig, nil
}

// Reset clears the cached configuration; tests call this between Load calls
// that mutate the environment.
func Reset() {
	globalConfig = nil
}

// newViper builds a Viper instance bound to the gateway's recognized
// environment variable names, with their defaults applied.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind(v, "event_monitoring.enabled", "EVENT_MONITORING_ENABLED")
	bind(v, "event_monitoring.db_path", "EVENT_MONITORING_DB_PATH")
	bind(v, "event_monitoring.retention_days", "EVENT_MONITORING_RETENTION_DAYS")
	bind(v, "event_monitoring.buffer_size", "EVENT_MONITORING_BUFFER_SIZE")
	bind(v, "event_monitoring.flush_interval_ms", "EVENT_MONITORING_FLUSH_INTERVAL")
	bind(v, "event_backup.path", "EVENT_BACKUP_PATH")
	bind(v, "event_backup.max_backups", "EVENT_MAX_BACKUPS")
	bind(v, "event_backup.interval_ms", "EVENT_BACKUP_INTERVAL")
	bind(v, "mcp.mode", "MCP_MODE")
	bind(v, "log.level", "LOG_LEVEL")
	bind(v, "qsys.host", "QSYS_HOST")
	bind(v, "qsys.port", "QSYS_PORT")

	SetDefaults(v)
	return v
}

func bind(v *viper.Viper, key, envVar string) {
	_ = v.BindEnv(key, envVar)
}

// SetDefaults applies every documented default. Exported so callers
// embedding Viper differently (tests, alternate entrypoints) stay in sync.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("event_monitoring.enabled", false)
	v.SetDefault("event_monitoring.db_path", "./data/events")
	v.SetDefault("event_monitoring.retention_days", 30)
	v.SetDefault("event_monitoring.buffer_size", 1000)
	v.SetDefault("event_monitoring.flush_interval_ms", 100)
	v.SetDefault("event_backup.path", "./data/backups")
	v.SetDefault("event_backup.max_backups", 7)
	v.SetDefault("event_backup.interval_ms", 86400000)
	v.SetDefault("mcp.mode", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("qsys.host", "localhost")
	v.SetDefault("qsys.port", 443)
}
