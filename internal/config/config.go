package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the proxy and its optional endpoints.
type Config struct {
	// GitHub identifies the private repository and the credentials to read it.
	GitHub GitHub `yaml:"github" mapstructure:"github"`
	// ListenAddress is the preferred local address of the proxy.
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address"`
	// Bind controls the port search when ListenAddress is taken.
	Bind Bind `yaml:"bind" mapstructure:"bind"`
	// Proxy controls request handling.
	Proxy Proxy `yaml:"proxy" mapstructure:"proxy"`
	// Upstream controls outbound requests to GitHub.
	Upstream Upstream `yaml:"upstream" mapstructure:"upstream"`
	// Health is the optional gRPC health endpoint.
	Health Endpoint `yaml:"health" mapstructure:"health"`
	// Admin is the optional HTTP endpoint exposing metrics and probes.
	Admin Endpoint `yaml:"admin" mapstructure:"admin"`
	// Log configures the logger.
	Log Log `yaml:"log" mapstructure:"log"`
}

// GitHub holds the upstream repository coordinates.
type GitHub struct {
	// Account is the owner of the repository.
	Account string `yaml:"account" mapstructure:"account"`
	// Repository is the repository name; it is also sent as User-Agent.
	Repository string `yaml:"repository" mapstructure:"repository"`
	// Token is the access token. It is read from the file or environment but never saved.
	Token string `yaml:"-" mapstructure:"token"`
	// APIURL is the API root, useful for GitHub Enterprise.
	APIURL string `yaml:"api_url" mapstructure:"api_url"`
}

// Bind configures the port search.
type Bind struct {
	// PortWindow is the size of the port block the search wraps within.
	PortWindow int `yaml:"port_window" mapstructure:"port_window"`
	// MaxRetries is how many occupied candidates are tolerated before giving up.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// Proxy configures request handling.
type Proxy struct {
	// Manifest is the filename of the update manifest whose URLs are rewritten.
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	// RateLimit caps upstream fetches per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// RateBurst is the burst size of the upstream rate limiter.
	RateBurst int `yaml:"rate_burst" mapstructure:"rate_burst"`
	// BreakerFailures is the number of consecutive upstream failures that
	// opens the circuit breaker. Zero disables the breaker.
	BreakerFailures int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
}

// Upstream configures outbound requests.
type Upstream struct {
	// Timeout bounds every upstream request including its body. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Endpoint is an optional listener address. Empty disables it.
type Endpoint struct {
	// Address is the host:port to listen on.
	Address string `yaml:"address" mapstructure:"address"`
}

// Log configures the logger.
type Log struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`
	// File enables a rotating log file next to stdout.
	File string `yaml:"file,omitempty" mapstructure:"file"`
	// MaxSizeMB is the rotation size of the log file.
	MaxSizeMB int `yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated log files are kept.
	MaxBackups int `yaml:"max_backups,omitempty" mapstructure:"max_backups"`
	// MaxAgeDays is how long rotated log files are kept.
	MaxAgeDays int `yaml:"max_age_days,omitempty" mapstructure:"max_age_days"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "priv-updater.yaml"

	// DefaultListenAddress is where the proxy listens unless told otherwise.
	DefaultListenAddress = "127.0.0.1:7748"

	// DefaultAPIURL is the public GitHub API root.
	DefaultAPIURL = "https://api.github.com"

	// DefaultManifest is the update manifest filename produced by Tauri bundles.
	DefaultManifest = "latest.json"

	// DefaultPortWindow keeps the port search inside one block of a thousand ports.
	DefaultPortWindow = 1000

	// DefaultMaxRetries is the number of occupied ports tolerated by the port search.
	DefaultMaxRetries = 10

	// DefaultBreakerFailures opens the breaker after this many consecutive upstream failures.
	DefaultBreakerFailures = 5

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultFilePermissions restricts the settings file to its owner.
	DefaultFilePermissions = 0o600

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "PRIV_UPDATER"

	// maxPortWindow is the whole 16-bit port space.
	maxPortWindow = 65536
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAccountRequired is returned when the repository owner is missing.
	errAccountRequired = errors.New("github account must be provided")
	// errRepositoryRequired is returned when the repository name is missing.
	errRepositoryRequired = errors.New("github repository must be provided")
	// errTokenRequired is returned when the access token is missing.
	errTokenRequired = errors.New("github token must be provided (set " + EnvPrefix + "_GITHUB_TOKEN)")
	// errInvalidPortWindow is returned when the port window is out of range.
	errInvalidPortWindow = errors.New("bind port window must be between 1 and 65536")
	// errInvalidRetries is returned for a negative retry budget.
	errInvalidRetries = errors.New("bind max retries must not be negative")
	// errInvalidProxySettings is returned for negative limiter or breaker settings.
	errInvalidProxySettings = errors.New("proxy rate limit, burst and breaker failures must not be negative")
	// errInvalidLogLevel is returned for an unknown log level.
	errInvalidLogLevel = errors.New("unknown log level")
)

// Default returns a configuration with every default applied and no repository set.
func Default() *Config {
	return &Config{
		GitHub: GitHub{
			APIURL: DefaultAPIURL,
		},
		ListenAddress: DefaultListenAddress,
		Bind: Bind{
			PortWindow: DefaultPortWindow,
			MaxRetries: DefaultMaxRetries,
		},
		Proxy: Proxy{
			Manifest:        DefaultManifest,
			BreakerFailures: DefaultBreakerFailures,
		},
		Log: Log{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads settings from path, applies environment overrides and validates them.
// A missing file is fine when path is empty and everything comes from the environment.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadLocal is Load for commands that never contact GitHub: the token may be absent.
func LoadLocal(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requireToken bool) (*Config, error) {
	v := newViper()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	v.SetConfigFile(filepath.Clean(path))

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := validate(cfg, requireToken); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to path. The token is deliberately left out of the file.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := validate(cfg, false); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and formats and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	return validate(cfg, true)
}

//nolint:cyclop // Flat list of independent checks.
func validate(cfg *Config, requireToken bool) error {
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.GitHub.Account) == "" {
		return errAccountRequired
	}

	if strings.TrimSpace(cfg.GitHub.Repository) == "" {
		return errRepositoryRequired
	}

	if requireToken && strings.TrimSpace(cfg.GitHub.Token) == "" {
		return errTokenRequired
	}

	if _, err := url.ParseRequestURI(cfg.GitHub.APIURL); err != nil {
		return fmt.Errorf("invalid github api url: %w", err)
	}

	if err := validateAddress("listen address", cfg.ListenAddress); err != nil {
		return err
	}

	if cfg.Health.Address != "" {
		if err := validateAddress("health address", cfg.Health.Address); err != nil {
			return err
		}
	}

	if cfg.Admin.Address != "" {
		if err := validateAddress("admin address", cfg.Admin.Address); err != nil {
			return err
		}
	}

	if cfg.Bind.PortWindow < 1 || cfg.Bind.PortWindow > maxPortWindow {
		return errInvalidPortWindow
	}

	if cfg.Bind.MaxRetries < 0 {
		return errInvalidRetries
	}

	if cfg.Proxy.RateLimit < 0 || cfg.Proxy.RateBurst < 0 || cfg.Proxy.BreakerFailures < 0 {
		return errInvalidProxySettings
	}

	if _, ok := parseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.Log.Level)
	}

	return nil
}

// applyDefaults fills zero values that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = DefaultAPIURL
	}

	cfg.GitHub.APIURL = strings.TrimRight(cfg.GitHub.APIURL, "/")

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if cfg.Bind.PortWindow == 0 {
		cfg.Bind.PortWindow = DefaultPortWindow
	}

	if cfg.Proxy.Manifest == "" {
		cfg.Proxy.Manifest = DefaultManifest
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func validateAddress(name, address string) error {
	if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, address, err)
	}

	return nil
}

// parseLevel accepts the same names as the logger without importing it.
func parseLevel(level string) (string, bool) {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return l, true
	default:
		return "", false
	}
}

// newViper builds a viper instance with defaults and environment overrides.
// Every key gets a default so environment variables reach Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()

	v.SetDefault("github.account", "")
	v.SetDefault("github.repository", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("bind.port_window", d.Bind.PortWindow)
	v.SetDefault("bind.max_retries", d.Bind.MaxRetries)
	v.SetDefault("proxy.manifest", d.Proxy.Manifest)
	v.SetDefault("proxy.rate_limit", 0.0)
	v.SetDefault("proxy.rate_burst", 0)
	v.SetDefault("proxy.breaker_failures", d.Proxy.BreakerFailures)
	v.SetDefault("upstream.timeout", time.Duration(0))
	v.SetDefault("health.address", "")
	v.SetDefault("admin.address", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)

	return v
}
