package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

// clearEnv blanks every variable Load reads; viper ignores empty values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range KnownKeys() {
		t.Setenv(EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), "")
	}
	for _, env := range legacyEnv {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("COX_STATUS_USERNAME", "user@example.com")
	t.Setenv("COX_STATUS_PASSWORD", "secret")
	t.Setenv("COX_STATUS_INFLUXDB", "http://influx:8086")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Portal.Username != "user@example.com" || cfg.Portal.Password != "secret" {
		t.Errorf("credentials = %q/%q", cfg.Portal.Username, cfg.Portal.Password)
	}
	if cfg.InfluxDB.URL != "http://influx:8086" || !cfg.InfluxDB.Enabled() {
		t.Errorf("influxdb url = %q", cfg.InfluxDB.URL)
	}
	if cfg.InfluxDB.Bucket != "cox" {
		t.Errorf("bucket = %q, want cox", cfg.InfluxDB.Bucket)
	}
	if cfg.Session.Driver != "file" || cfg.Session.Path != "cox-status.json" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Poll.Interval != "1h" || cfg.Poll.RetryInterval != "5m" {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Portal.LoginCookie != "SM_LOGGEDIN" {
		t.Errorf("login cookie = %q", cfg.Portal.LoginCookie)
	}
	if cfg.Portal.Constants["client_id"] != "clientId" {
		t.Errorf("constants = %v", cfg.Portal.Constants)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled by default")
	}
}

func TestLoad_PrefixedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COX_STATUS_PORTAL_USERNAME", "prefixed")
	t.Setenv("COX_STATUS_USERNAME", "legacy")
	t.Setenv("COX_STATUS_PORTAL_PASSWORD", "secret")
	t.Setenv("COX_STATUS_METRICS_ENABLED", "true")
	t.Setenv("COX_STATUS_POLL_INTERVAL", "30m")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Portal.Username != "prefixed" {
		t.Errorf("username = %q, want the prefixed variable to win", cfg.Portal.Username)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled from env")
	}
	if cfg.Poll.Interval != "30m" {
		t.Errorf("interval = %q", cfg.Poll.Interval)
	}
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
portal:
  username: fileuser
  password: filepass
influxdb:
  url: http://file:8086
  bucket: filebucket
logging:
  level: debug
`)
	t.Setenv("COX_STATUS_PASSWORD", "envpass")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("username", "", "")
	flags.String("bucket", "", "")
	flags.String("org", "", "")
	if err := flags.Parse([]string{"--username", "flaguser", "--bucket", "flagbucket"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"username (flag over file)", cfg.Portal.Username, "flaguser"},
		{"password (env over file)", cfg.Portal.Password, "envpass"},
		{"bucket (flag over file)", cfg.InfluxDB.Bucket, "flagbucket"},
		{"url (file over default)", cfg.InfluxDB.URL, "http://file:8086"},
		{"org (unset flag keeps default)", cfg.InfluxDB.Org, ""},
		{"log level (file)", cfg.Logging.Level, "debug"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("COX_STATUS_USERNAME", "u")
	t.Setenv("COX_STATUS_PASSWORD", "p")
	t.Setenv("COX_STATUS_INFLUXDB", "http://influx:8086")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err != nil {
		t.Errorf("missing config file should not fail: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing credentials",
			body:    "influxdb:\n  url: http://influx:8086\n",
			wantErr: "username",
		},
		{
			name:    "no sink",
			body:    "portal:\n  username: u\n  password: p\n",
			wantErr: "no metrics sink",
		},
		{
			name:    "bad duration",
			body:    "portal:\n  username: u\n  password: p\nmetrics:\n  enabled: true\npoll:\n  interval: hourly\n",
			wantErr: "poll.interval",
		},
		{
			name:    "unknown driver",
			body:    "portal:\n  username: u\n  password: p\nmetrics:\n  enabled: true\nsession:\n  driver: sqlite\n",
			wantErr: "unsupported session driver",
		},
		{
			name:    "bad metrics port",
			body:    "portal:\n  username: u\n  password: p\nmetrics:\n  enabled: true\n  port: 70000\n",
			wantErr: "metrics port",
		},
		{
			name:    "required constant without identifier",
			body:    "portal:\n  username: u\n  password: p\n  required_constants: [tenant]\nmetrics:\n  enabled: true\n",
			wantErr: "tenant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPortal_NoSinkRequired(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "portal:\n  username: u\n  password: p\n")

	if _, err := LoadPortal(path, nil); err != nil {
		t.Errorf("LoadPortal failed: %v", err)
	}
}

func TestLoad_CreatesSessionDirectory(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "state", "coxstatus")
	t.Setenv("COX_STATUS_USERNAME", "u")
	t.Setenv("COX_STATUS_PASSWORD", "p")
	t.Setenv("COX_STATUS_METRICS_ENABLED", "true")
	t.Setenv("COX_STATUS_SESSION_PATH", filepath.Join(dir, "cox-status.json"))

	if _, err := Load("", nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("session directory not created: %v", err)
	}
}

func TestFileKeys(t *testing.T) {
	path := writeConfig(t, "portal:\n  username: u\n  pasword: typo\n")

	keys, err := FileKeys(path)
	if err != nil {
		t.Fatalf("FileKeys failed: %v", err)
	}

	known := make(map[string]bool)
	for _, k := range KnownKeys() {
		known[k] = true
	}
	var unknown []string
	for _, k := range keys {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) != 1 || unknown[0] != "portal.pasword" {
		t.Errorf("unknown keys = %v, want [portal.pasword]", unknown)
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("90s", 0); got.Seconds() != 90 {
		t.Errorf("ParseDuration(90s) = %v", got)
	}
	if got := ParseDuration("soon", 42); got != 42 {
		t.Errorf("fallback = %v, want 42", got)
	}
}
