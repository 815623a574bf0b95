package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"db.type", "mysql", func(k string) interface{} { return GetString(k) }},
		{"db.port", 3306, func(k string) interface{} { return GetInt(k) }},
		{"db.name", "merlin", func(k string) interface{} { return GetString(k) }},
		{"cache", "/opt/monitor/var/objects.cache", func(k string) interface{} { return GetString(k) }},
		{"mark-pending", true, func(k string) interface{} { return GetBool(k) }},
		{"watch.debounce", 2 * time.Second, func(k string) interface{} { return GetDuration(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
	if ConfigFileUsed() != "" {
		t.Errorf("unexpected config file %q", ConfigFileUsed())
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"OCIMP_DB_HOST", "db.host", "db.example", "db.example", func(k string) interface{} { return GetString(k) }},
		{"OCIMP_DB_TYPE", "db.type", "sqlite", "sqlite", func(k string) interface{} { return GetString(k) }},
		{"OCIMP_MARK_PENDING", "mark-pending", "false", false, func(k string) interface{} { return GetBool(k) }},
		{"OCIMP_WATCH_DEBOUNCE", "watch.debounce", "10s", 10 * time.Second, func(k string) interface{} { return GetDuration(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(""); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("Get(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocimp.yaml")
	content := `
db:
  type: sqlite
  path: /var/lib/ocimp/merlin.db
cache: /tmp/objects.cache
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if got := GetString("db.type"); got != "sqlite" {
		t.Errorf("db.type = %q, want sqlite", got)
	}
	if got := GetString("db.path"); got != "/var/lib/ocimp/merlin.db" {
		t.Errorf("db.path = %q", got)
	}
	if got := GetString("log.format"); got != "json" {
		t.Errorf("log.format = %q, want json", got)
	}
	if got := GetString("db.user"); got != "merlin" {
		t.Errorf("db.user default lost: %q", got)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), path)
	}
}

func TestConfigFileDiscovery(t *testing.T) {
	if err := os.WriteFile("ocimp.yaml", []byte("db:\n  name: monitor\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove("ocimp.yaml") })

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString("db.name"); got != "monitor" {
		t.Errorf("db.name = %q, want monitor", got)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if err := Initialize(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestFlagOverride(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("db-host", "localhost", "")
	if err := BindPFlag("db.host", fs.Lookup("db-host")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse([]string{"--db-host", "10.1.1.1"}); err != nil {
		t.Fatal(err)
	}
	if got := GetString("db.host"); got != "10.1.1.1" {
		t.Errorf("db.host = %q, want 10.1.1.1", got)
	}
}

func TestNilSafety(t *testing.T) {
	ResetForTesting()
	if got := GetString("db.host"); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool("mark-pending"); got {
		t.Error("GetBool with nil viper = true, want false")
	}
	if got := GetDuration("watch.debounce"); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := AllSettings(); len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
	if err := BindPFlag("db.host", nil); err != nil {
		t.Errorf("BindPFlag with nil viper: %v", err)
	}
}

func TestCurrent(t *testing.T) {
	t.Setenv("OCIMP_DB_PORT", "3307")
	t.Setenv("OCIMP_WATCH_SCHEDULE", "*/5 * * * *")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	cfg := Current()
	if cfg.DB.Port != 3307 {
		t.Errorf("DB.Port = %d, want 3307", cfg.DB.Port)
	}
	if cfg.DB.RetryWindow != 30*time.Second {
		t.Errorf("DB.RetryWindow = %v, want 30s", cfg.DB.RetryWindow)
	}
	if cfg.Watch.Schedule != "*/5 * * * *" {
		t.Errorf("Watch.Schedule = %q", cfg.Watch.Schedule)
	}
	if cfg.Import.Cache != "/opt/monitor/var/objects.cache" {
		t.Errorf("Import.Cache = %q", cfg.Import.Cache)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}
