package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/xswap/internal/registry"
)

const envPrefix = "XSWAP_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
	APIURL         string
	PollInterval   string
	MetricsFile    string
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&flags.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	fs.BoolVar(&flags.Strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&flags.Timeout, "timeout", "", "Provider request timeout")
	fs.IntVar(&flags.Retries, "retries", -1, "Retries for provider 5xx responses")
	fs.StringVar(&flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	fs.BoolVar(&flags.NoStale, "no-stale", false, "Reject stale cache entries")
	fs.BoolVar(&flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&flags.APIURL, "api-url", "", "Order API base URL")
	fs.StringVar(&flags.PollInterval, "poll-interval", "", "Order status poll interval")
	fs.StringVar(&flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Strict         bool
	LogLevel       string

	Timeout           time.Duration
	Retries           int
	RequestsPerSecond float64
	APIURL            string

	Spacing           time.Duration
	RateLimitRetries  int
	RateLimitBackoff  time.Duration
	PollInterval      time.Duration
	OrderIDAttempts   int
	OrderIDDelay      time.Duration
	AffiliateFeePct   float64
	AffiliateReceiver string

	MaxStale      time.Duration
	NoStale       bool
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	OrderPath     string
	OrderLockPath string
	MetricsFile   string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Strict   *bool  `yaml:"strict"`
	LogLevel string `yaml:"log_level"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	API      struct {
		URL               string   `yaml:"url"`
		RequestsPerSecond *float64 `yaml:"requests_per_second"`
	} `yaml:"api"`
	Scheduler struct {
		Spacing          string `yaml:"spacing"`
		RateLimitRetries *int   `yaml:"rate_limit_retries"`
		Backoff          string `yaml:"backoff"`
	} `yaml:"scheduler"`
	Orders struct {
		PollInterval    string `yaml:"poll_interval"`
		OrderIDAttempts *int   `yaml:"order_id_attempts"`
		OrderIDDelay    string `yaml:"order_id_delay"`
		Path            string `yaml:"path"`
		LockPath        string `yaml:"lock_path"`
	} `yaml:"orders"`
	Affiliate struct {
		FeePercent *float64 `yaml:"fee_percent"`
		Recipient  string   `yaml:"recipient"`
	} `yaml:"affiliate"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.Spacing < 0 {
		settings.Spacing = 0
	}
	if settings.RateLimitRetries < 0 {
		settings.RateLimitRetries = 0
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 10 * time.Second
	}
	if !registry.IsAllowedAPIURL(settings.APIURL) {
		return Settings{}, fmt.Errorf("api url %q is not an allowed endpoint", settings.APIURL)
	}
	if settings.AffiliateFeePct < 0 || settings.AffiliateFeePct >= 100 {
		return Settings{}, fmt.Errorf("affiliate fee percent must be in [0, 100)")
	}
	if settings.AffiliateFeePct > 0 && strings.TrimSpace(settings.AffiliateReceiver) == "" {
		return Settings{}, fmt.Errorf("affiliate fee percent requires an affiliate recipient")
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:       "json",
		LogLevel:         "warn",
		Timeout:          30 * time.Second,
		Retries:          0,
		APIURL:           registry.DLNBaseURL,
		Spacing:          time.Second,
		RateLimitRetries: 3,
		RateLimitBackoff: time.Second,
		PollInterval:     10 * time.Second,
		OrderIDAttempts:  5,
		OrderIDDelay:     3 * time.Second,
		MaxStale:         5 * time.Minute,
		CacheEnabled:     true,
		CachePath:        cachePath,
		CacheLockPath:    lockPath,
		OrderPath:        filepath.Join(cacheDir, "orders.db"),
		OrderLockPath:    filepath.Join(cacheDir, "orders.lock"),
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xswap", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "xswap")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.API.URL != "" {
		settings.APIURL = cfg.API.URL
	}
	if cfg.API.RequestsPerSecond != nil {
		settings.RequestsPerSecond = *cfg.API.RequestsPerSecond
	}
	if cfg.Scheduler.RateLimitRetries != nil {
		settings.RateLimitRetries = *cfg.Scheduler.RateLimitRetries
	}
	if cfg.Orders.OrderIDAttempts != nil {
		settings.OrderIDAttempts = *cfg.Orders.OrderIDAttempts
	}
	if cfg.Orders.Path != "" {
		settings.OrderPath = cfg.Orders.Path
	}
	if cfg.Orders.LockPath != "" {
		settings.OrderLockPath = cfg.Orders.LockPath
	}
	if cfg.Affiliate.FeePercent != nil {
		settings.AffiliateFeePct = *cfg.Affiliate.FeePercent
	}
	if cfg.Affiliate.Recipient != "" {
		settings.AffiliateReceiver = cfg.Affiliate.Recipient
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}

	durations := []struct {
		raw   string
		name  string
		field *time.Duration
	}{
		{cfg.Timeout, "timeout", &settings.Timeout},
		{cfg.Scheduler.Spacing, "scheduler.spacing", &settings.Spacing},
		{cfg.Scheduler.Backoff, "scheduler.backoff", &settings.RateLimitBackoff},
		{cfg.Orders.PollInterval, "orders.poll_interval", &settings.PollInterval},
		{cfg.Orders.OrderIDDelay, "orders.order_id_delay", &settings.OrderIDDelay},
		{cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.field = parsed
	}
	return nil
}

func applyEnv(settings *Settings) {
	env := func(name string) string { return os.Getenv(envPrefix + name) }

	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := env("API_URL"); v != "" {
		settings.APIURL = v
	}
	if v := env("AFFILIATE_RECIPIENT"); v != "" {
		settings.AffiliateReceiver = v
	}
	if v := env("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := env("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := env("ORDERS_PATH"); v != "" {
		settings.OrderPath = v
	}
	if v := env("ORDERS_LOCK_PATH"); v != "" {
		settings.OrderLockPath = v
	}
	if v := env("STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := env("NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("RATE_LIMIT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.RateLimitRetries = n
		}
	}
	if v := env("REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.RequestsPerSecond = f
		}
	}
	if v := env("AFFILIATE_FEE_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.AffiliateFeePct = f
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":        &settings.Timeout,
		"SPACING":        &settings.Spacing,
		"BACKOFF":        &settings.RateLimitBackoff,
		"POLL_INTERVAL":  &settings.PollInterval,
		"ORDER_ID_DELAY": &settings.OrderIDDelay,
		"MAX_STALE":      &settings.MaxStale,
	}
	for name, field := range durations {
		if v := env(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*field = d
			}
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	settings.SelectFields = splitList(flags.Select)
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.PollInterval != "" {
		d, err := time.ParseDuration(flags.PollInterval)
		if err != nil {
			return fmt.Errorf("parse --poll-interval: %w", err)
		}
		settings.PollInterval = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.APIURL != "" {
		settings.APIURL = flags.APIURL
	}
	if flags.MetricsFile != "" {
		settings.MetricsFile = flags.MetricsFile
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
