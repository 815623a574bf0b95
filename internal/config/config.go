// Package config loads ocimp settings from flags, OCIMP_* environment
// variables and an optional ocimp.yaml, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: db.host is OCIMP_DB_HOST.
const EnvPrefix = "OCIMP"

var v *viper.Viper

// Initialize builds the configuration. An explicit file must exist; without
// one the search path is ./ocimp.yaml, ~/.config/ocimp and /etc/ocimp.
func Initialize(file string) error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigName("ocimp")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "ocimp"))
	}
	v.AddConfigPath("/etc/ocimp")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.type", "mysql")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "merlin")
	v.SetDefault("db.pass", "merlin")
	v.SetDefault("db.name", "merlin")
	v.SetDefault("db.path", "")
	v.SetDefault("db.tls", false)
	v.SetDefault("db.retry-window", 30*time.Second)

	v.SetDefault("cache", "/opt/monitor/var/objects.cache")
	v.SetDefault("nagios-cfg", "")
	v.SetDefault("lock-file", filepath.Join(os.TempDir(), "ocimp.lock"))
	v.SetDefault("mark-pending", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("watch.schedule", "")
	v.SetDefault("watch.listen", "")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.stdout", false)
}

// BindPFlag lets a command-line flag override key when it is set.
func BindPFlag(key string, flag *pflag.Flag) error {
	if v == nil || flag == nil {
		return nil
	}
	return v.BindPFlag(key, flag)
}

// ConfigFileUsed returns the file that was loaded, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Set overrides key for the rest of the process.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// AllSettings returns the merged settings, for `ocimp config` style dumps.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// ResetForTesting drops the loaded configuration.
func ResetForTesting() {
	v = nil
}

// DB is the datastore section.
type DB struct {
	Type        string
	Host        string
	Port        int
	User        string
	Pass        string
	Name        string
	Path        string
	TLS         bool
	RetryWindow time.Duration
}

// Import is the dump location section.
type Import struct {
	Cache       string
	NagiosCfg   string
	LockFile    string
	MarkPending bool
}

// Watch configures `ocimp watch`.
type Watch struct {
	Debounce time.Duration
	Schedule string
	Listen   string
}

type Log struct {
	Level  string
	Format string
}

type Telemetry struct {
	Enabled bool
	Stdout  bool
}

// Config is a typed snapshot of the merged settings.
type Config struct {
	DB              DB
	Import          Import
	Watch           Watch
	Log             Log
	Telemetry       Telemetry
	MetricsTextfile string
}

// Current snapshots the settings as they stand now.
func Current() Config {
	return Config{
		DB: DB{
			Type:        GetString("db.type"),
			Host:        GetString("db.host"),
			Port:        GetInt("db.port"),
			User:        GetString("db.user"),
			Pass:        GetString("db.pass"),
			Name:        GetString("db.name"),
			Path:        GetString("db.path"),
			TLS:         GetBool("db.tls"),
			RetryWindow: GetDuration("db.retry-window"),
		},
		Import: Import{
			Cache:       GetString("cache"),
			NagiosCfg:   GetString("nagios-cfg"),
			LockFile:    GetString("lock-file"),
			MarkPending: GetBool("mark-pending"),
		},
		Watch: Watch{
			Debounce: GetDuration("watch.debounce"),
			Schedule: GetString("watch.schedule"),
			Listen:   GetString("watch.listen"),
		},
		Log: Log{
			Level:  GetString("log.level"),
			Format: GetString("log.format"),
		},
		Telemetry: Telemetry{
			Enabled: GetBool("otel.enabled"),
			Stdout:  GetBool("otel.stdout"),
		},
		MetricsTextfile: GetString("metrics.textfile"),
	}
}
