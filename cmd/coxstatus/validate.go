package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/goodtune/coxstatus/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the coxstatus configuration (file, environment and flags) and
report keys in the configuration file that are not recognised.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with non-default values highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys when a file is in use
	var unknownKeys []string
	if configPath != "" {
		unknownKeys, err = findUnknownKeys(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
		}
	}

	source := configPath
	if source == "" {
		source = "environment and flags"
	}
	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", source)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	fileKeys, err := config.FileKeys(configPath)
	if err != nil {
		return nil, err
	}
	return unknownKeys(fileKeys, config.KnownKeys()), nil
}

// unknownKeys returns the file keys without a default. Entries under
// portal.constants are free-form identifiers and always accepted.
func unknownKeys(fileKeys, known []string) []string {
	valid := lo.SliceToMap(known, func(k string) (string, bool) { return k, true })
	unknown := lo.Filter(fileKeys, func(key string, _ int) bool {
		return !valid[key] && !strings.HasPrefix(key, "portal.constants.")
	})
	sort.Strings(unknown)
	return unknown
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	// Setup colors (only if terminal supports it)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Portal
	_, _ = cyan.Println("\n[portal]")
	dumpField("  username", cfg.Portal.Username, defaultCfg.Portal.Username, yellow, green)
	dumpField("  password", redactPassword(cfg.Portal.Password), redactPassword(defaultCfg.Portal.Password), yellow, green)
	dumpField("  user_agent", cfg.Portal.UserAgent, defaultCfg.Portal.UserAgent, yellow, green)
	dumpField("  proxy", cfg.Portal.Proxy, defaultCfg.Portal.Proxy, yellow, green)
	dumpField("  timeout", cfg.Portal.Timeout, defaultCfg.Portal.Timeout, yellow, green)
	dumpField("  max_redirects", cfg.Portal.MaxRedirects, defaultCfg.Portal.MaxRedirects, yellow, green)
	dumpField("  config_script_url", cfg.Portal.ConfigScriptURL, defaultCfg.Portal.ConfigScriptURL, yellow, green)
	dumpField("  constants", cfg.Portal.Constants, defaultCfg.Portal.Constants, yellow, green)
	dumpField("  required_constants", cfg.Portal.RequiredConstants, defaultCfg.Portal.RequiredConstants, yellow, green)
	dumpField("  constants_ttl", cfg.Portal.ConstantsTTL, defaultCfg.Portal.ConstantsTTL, yellow, green)
	dumpField("  authn_path", cfg.Portal.AuthnPath, defaultCfg.Portal.AuthnPath, yellow, green)
	dumpField("  authorize_path", cfg.Portal.AuthorizePath, defaultCfg.Portal.AuthorizePath, yellow, green)
	dumpField("  redirect_uri", cfg.Portal.RedirectURI, defaultCfg.Portal.RedirectURI, yellow, green)
	dumpField("  scope", cfg.Portal.Scope, defaultCfg.Portal.Scope, yellow, green)
	dumpField("  state", cfg.Portal.State, defaultCfg.Portal.State, yellow, green)
	dumpField("  login_cookie", cfg.Portal.LoginCookie, defaultCfg.Portal.LoginCookie, yellow, green)
	dumpField("  login_cookie_domain", cfg.Portal.LoginCookieDomain, defaultCfg.Portal.LoginCookieDomain, yellow, green)
	dumpField("  warmup_url", cfg.Portal.WarmupURL, defaultCfg.Portal.WarmupURL, yellow, green)
	dumpField("  usage_url", cfg.Portal.UsageURL, defaultCfg.Portal.UsageURL, yellow, green)
	dumpField("  usage_period", cfg.Portal.UsagePeriod, defaultCfg.Portal.UsagePeriod, yellow, green)
	dumpField("  summary_url", cfg.Portal.SummaryURL, defaultCfg.Portal.SummaryURL, yellow, green)
	dumpField("  summary_attribute", cfg.Portal.SummaryAttribute, defaultCfg.Portal.SummaryAttribute, yellow, green)
	dumpField("  expiry_markers", cfg.Portal.ExpiryMarkers, defaultCfg.Portal.ExpiryMarkers, yellow, green)

	// Session
	_, _ = cyan.Println("\n[session]")
	dumpField("  driver", cfg.Session.Driver, defaultCfg.Session.Driver, yellow, green)
	dumpField("  path", cfg.Session.Path, defaultCfg.Session.Path, yellow, green)
	dumpField("  redis.host", cfg.Session.Redis.Host, defaultCfg.Session.Redis.Host, yellow, green)
	dumpField("  redis.port", cfg.Session.Redis.Port, defaultCfg.Session.Redis.Port, yellow, green)
	dumpField("  redis.password", redactPassword(cfg.Session.Redis.Password), redactPassword(defaultCfg.Session.Redis.Password), yellow, green)
	dumpField("  redis.db", cfg.Session.Redis.DB, defaultCfg.Session.Redis.DB, yellow, green)
	dumpField("  redis.key_prefix", cfg.Session.Redis.KeyPrefix, defaultCfg.Session.Redis.KeyPrefix, yellow, green)
	dumpField("  redis.ttl", cfg.Session.Redis.TTL, defaultCfg.Session.Redis.TTL, yellow, green)
	dumpField("  redis.dial_timeout", cfg.Session.Redis.DialTimeout, defaultCfg.Session.Redis.DialTimeout, yellow, green)
	dumpField("  redis.read_timeout", cfg.Session.Redis.ReadTimeout, defaultCfg.Session.Redis.ReadTimeout, yellow, green)
	dumpField("  redis.write_timeout", cfg.Session.Redis.WriteTimeout, defaultCfg.Session.Redis.WriteTimeout, yellow, green)

	// InfluxDB
	_, _ = cyan.Println("\n[influxdb]")
	dumpField("  url", cfg.InfluxDB.URL, defaultCfg.InfluxDB.URL, yellow, green)
	dumpField("  token", redactPassword(cfg.InfluxDB.Token), redactPassword(defaultCfg.InfluxDB.Token), yellow, green)
	dumpField("  org", cfg.InfluxDB.Org, defaultCfg.InfluxDB.Org, yellow, green)
	dumpField("  bucket", cfg.InfluxDB.Bucket, defaultCfg.InfluxDB.Bucket, yellow, green)
	dumpField("  timeout", cfg.InfluxDB.Timeout, defaultCfg.InfluxDB.Timeout, yellow, green)

	// Metrics
	_, _ = cyan.Println("\n[metrics]")
	dumpField("  enabled", cfg.Metrics.Enabled, defaultCfg.Metrics.Enabled, yellow, green)
	dumpField("  bind_address", cfg.Metrics.BindAddress, defaultCfg.Metrics.BindAddress, yellow, green)
	dumpField("  port", cfg.Metrics.Port, defaultCfg.Metrics.Port, yellow, green)

	// Poll
	_, _ = cyan.Println("\n[poll]")
	dumpField("  interval", cfg.Poll.Interval, defaultCfg.Poll.Interval, yellow, green)
	dumpField("  retry_interval", cfg.Poll.RetryInterval, defaultCfg.Poll.RetryInterval, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	fmt.Println()
}

// dumpField prints a single field with color based on whether it's modified
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	// Deep equal comparison
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
