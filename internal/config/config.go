package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (COX_STATUS_PORTAL_USERNAME, ...).
const EnvPrefix = "COX_STATUS"

// Config holds the complete application configuration
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal"`
	Session  SessionConfig  `mapstructure:"session"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Poll     PollConfig     `mapstructure:"poll"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PortalConfig describes the account portal and the credentials used against it
type PortalConfig struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	UserAgent    string `mapstructure:"user_agent"`
	Proxy        string `mapstructure:"proxy"` // also disables TLS verification
	Timeout      string `mapstructure:"timeout"`
	MaxRedirects int    `mapstructure:"max_redirects"`

	// Login handshake
	ConfigScriptURL   string            `mapstructure:"config_script_url"`
	Constants         map[string]string `mapstructure:"constants"` // logical key -> identifier in the script
	RequiredConstants []string          `mapstructure:"required_constants"`
	ConstantsTTL      string            `mapstructure:"constants_ttl"`
	AuthnPath         string            `mapstructure:"authn_path"`
	AuthorizePath     string            `mapstructure:"authorize_path"`
	RedirectURI       string            `mapstructure:"redirect_uri"`
	Scope             string            `mapstructure:"scope"`
	State             string            `mapstructure:"state"`
	LoginCookie       string            `mapstructure:"login_cookie"`
	LoginCookieDomain string            `mapstructure:"login_cookie_domain"`
	WarmupURL         string            `mapstructure:"warmup_url"`

	// Usage data
	UsageURL         string   `mapstructure:"usage_url"`
	UsagePeriod      string   `mapstructure:"usage_period"`
	SummaryURL       string   `mapstructure:"summary_url"`
	SummaryAttribute string   `mapstructure:"summary_attribute"`
	ExpiryMarkers    []string `mapstructure:"expiry_markers"`
}

// SessionConfig selects where the cookie jar is persisted
type SessionConfig struct {
	Driver string      `mapstructure:"driver"` // "file", "bolt" or "redis"
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	TTL          string `mapstructure:"ttl"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// InfluxDBConfig defines the time-series store records are written to
type InfluxDBConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
	Timeout string `mapstructure:"timeout"`
}

// Enabled reports whether records should be written to InfluxDB.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// MetricsConfig defines the Prometheus exporter
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Addr returns the listen address of the exporter.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// PollConfig defines the poll loop timing
type PollConfig struct {
	Interval      string `mapstructure:"interval"`
	RetryInterval string `mapstructure:"retry_interval"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"username":     "portal.username",
	"password":     "portal.password",
	"influxdb":     "influxdb.url",
	"token":        "influxdb.token",
	"org":          "influxdb.org",
	"bucket":       "influxdb.bucket",
	"session-file": "session.path",
	"log-level":    "logging.level",
}

// legacyEnv lists the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"portal.username": "COX_STATUS_USERNAME",
	"portal.password": "COX_STATUS_PASSWORD",
	"influxdb.url":    "COX_STATUS_INFLUXDB",
}

// Load loads configuration from flags, environment variables, an optional
// .env file and the configuration file, in that order of precedence.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	return load(configPath, flags, true)
}

// LoadPortal is Load for commands that only talk to the portal and do not
// need a metrics sink.
func LoadPortal(configPath string, flags *pflag.FlagSet) (*Config, error) {
	return load(configPath, flags, false)
}

func load(configPath string, flags *pflag.FlagSet, requireSink bool) (*Config, error) {
	v, err := newViper(configPath, flags)
	if err != nil {
		return nil, err
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config, requireSink); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// FileKeys returns the keys present in the configuration file, for unknown key checks.
func FileKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllKeys(), nil
}

// KnownKeys returns every key that has a default.
func KnownKeys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

func newViper(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	// A missing .env file is the common case
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	return v, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Portal defaults
	v.SetDefault("portal.username", "")
	v.SetDefault("portal.password", "")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("portal.proxy", "")
	v.SetDefault("portal.timeout", "30s")
	v.SetDefault("portal.max_redirects", 10)
	v.SetDefault("portal.config_script_url", "https://www.cox.com/content/dam/cox/okta/signin.js")
	v.SetDefault("portal.constants", map[string]string{
		"client_id": "clientId",
		"base_url":  "baseUrl",
		"issuer":    "issuer",
		"scope":     "scopes",
	})
	v.SetDefault("portal.required_constants", []string{"client_id", "base_url", "issuer"})
	v.SetDefault("portal.constants_ttl", "6h")
	v.SetDefault("portal.authn_path", "/api/v1/authn")
	v.SetDefault("portal.authorize_path", "/v1/authorize")
	v.SetDefault("portal.redirect_uri", "https://www.cox.com/authres/code")
	v.SetDefault("portal.scope", "openid internal email profile")
	v.SetDefault("portal.state", "https://www.cox.com/resaccount/home.html")
	v.SetDefault("portal.login_cookie", "SM_LOGGEDIN")
	v.SetDefault("portal.login_cookie_domain", "")
	v.SetDefault("portal.warmup_url", "https://www.cox.com/internet/mydatausage.html")
	v.SetDefault("portal.usage_url", "https://www.cox.com/internet/ajaxDataUsageJSON.ajax")
	v.SetDefault("portal.usage_period", "daily")
	v.SetDefault("portal.summary_url", "https://www.cox.com/internet/mydatausage.html")
	v.SetDefault("portal.summary_attribute", "data-usage-summary")
	v.SetDefault("portal.expiry_markers", []string{"Please sign in", "sign-in.cox"})

	// Session defaults
	v.SetDefault("session.driver", "file")
	v.SetDefault("session.path", "cox-status.json")
	v.SetDefault("session.redis.host", "localhost")
	v.SetDefault("session.redis.port", 6379)
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.key_prefix", "coxstatus:session:")
	v.SetDefault("session.redis.ttl", "0s")
	v.SetDefault("session.redis.dial_timeout", "5s")
	v.SetDefault("session.redis.read_timeout", "3s")
	v.SetDefault("session.redis.write_timeout", "3s")

	// InfluxDB defaults
	v.SetDefault("influxdb.url", "")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "cox")
	v.SetDefault("influxdb.timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bind_address", "0.0.0.0")
	v.SetDefault("metrics.port", 9100)

	// Poll defaults
	v.SetDefault("poll.interval", "1h")
	v.SetDefault("poll.retry_interval", "5m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config, requireSink bool) error {
	// Validate required fields
	if cfg.Portal.Username == "" || cfg.Portal.Password == "" {
		return fmt.Errorf("missing username and/or password")
	}

	if requireSink && !cfg.InfluxDB.Enabled() && !cfg.Metrics.Enabled {
		return fmt.Errorf("no metrics sink configured: set influxdb.url or enable metrics")
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	durations := map[string]string{
		"portal.timeout":       cfg.Portal.Timeout,
		"portal.constants_ttl": cfg.Portal.ConstantsTTL,
		"poll.interval":        cfg.Poll.Interval,
		"poll.retry_interval":  cfg.Poll.RetryInterval,
		"influxdb.timeout":     cfg.InfluxDB.Timeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	for _, key := range cfg.Portal.RequiredConstants {
		if _, ok := cfg.Portal.Constants[key]; !ok {
			return fmt.Errorf("required constant %q has no identifier in portal.constants", key)
		}
	}

	if cfg.Portal.LoginCookie == "" {
		return fmt.Errorf("portal.login_cookie is required")
	}

	switch cfg.Session.Driver {
	case "", "file", "bolt":
		if cfg.Session.Driver == "" {
			cfg.Session.Driver = "file"
		}
		if cfg.Session.Path == "" {
			return fmt.Errorf("session path is required")
		}
		// Ensure session directory exists
		if dir := filepath.Dir(cfg.Session.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create session directory: %w", err)
			}
		}
	case "redis":
		if cfg.Session.Redis.Host == "" {
			return fmt.Errorf("session.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported session driver: %s", cfg.Session.Driver)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
