// Package config loads and validates the batchrelay configuration from YAML or
// TOML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by validate when a key is omitted.
const (
	DefaultBatchSize        = 500
	DefaultConcurrency      = 3
	DefaultMaxRetryAttempts = 3
	DefaultRetryBaseDelay   = time.Second
	DefaultPageSize         = 500
	DefaultRequestTimeout   = 30 * time.Second
	DefaultCacheTTL         = 5 * time.Minute

	// maxRecordsPerCall is the store's per-request record limit.
	maxRecordsPerCall = 500
	maxConcurrency    = 20
	maxRetryAttempts  = 10
)

// Config holds the full application configuration.
type Config struct {
	// StoreURL is the base URL of the record store (e.g. "https://example.cybozu.com").
	StoreURL string `yaml:"store_url" toml:"store_url"`

	// APIToken authenticates with a per-app token. Mutually exclusive with
	// Username/Password.
	APIToken string `yaml:"api_token" toml:"api_token"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	// BatchSize is the number of records per write call (1..500).
	BatchSize int `yaml:"batch_size" toml:"batch_size"`

	// Concurrency is the number of write calls in flight per wave (1..20).
	Concurrency int `yaml:"concurrency" toml:"concurrency"`

	// MaxRetryAttempts bounds the attempts for each store call (1..10).
	MaxRetryAttempts int `yaml:"max_retry_attempts" toml:"max_retry_attempts"`

	// RetryBaseDelay is the wait after the first failure; it doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" toml:"retry_base_delay"`

	// RetryJitter randomises each wait by ±50%.
	RetryJitter bool `yaml:"retry_jitter" toml:"retry_jitter"`

	// PageSize is the limit used when paging through query results (1..500).
	PageSize int `yaml:"page_size" toml:"page_size"`

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`

	// CacheTTL is how long reads stay cached. Zero disables the cache.
	// Omitting the key uses DefaultCacheTTL.
	CacheTTL *time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`

	// CachePath is the SQLite file holding cached reads, shared by every
	// batchrelay process. Defaults to DefaultCachePath; ":memory:" keeps the
	// cache private to one process.
	CachePath string `yaml:"cache_path" toml:"cache_path"`

	// NoMembershipFields lists fields the store cannot match with "in (...)".
	// Defaults to ["date"].
	NoMembershipFields []string `yaml:"no_membership_fields" toml:"no_membership_fields"`

	// Collections maps friendly names to app IDs.
	// Example: {"daily": "42", "monthly": "43"}
	Collections map[string]string `yaml:"collections" toml:"collections"`

	// LogFile, when set, sends logs to a size-rotated file instead of stderr.
	LogFile string `yaml:"log_file" toml:"log_file"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty" toml:"telemetry"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure" toml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "batchrelay".
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers"`
}

// DefaultPath returns the default config file path: ~/.config/batchrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "batchrelay", "config.yaml"), nil
}

// DefaultCachePath returns the default read cache file:
// <user cache dir>/batchrelay/reads.db.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	return filepath.Join(dir, "batchrelay", "reads.db"), nil
}

// Load reads and validates the configuration file at the given path. Files
// ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(path, &cfg)
	} else {
		err = decodeYAML(path, &cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return nil
}

func decodeTOML(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parsing config file %q: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

// ResolveCollection maps a collection alias to its app ID. Names that are
// not aliases are returned unchanged, so raw app IDs work too.
func (c *Config) ResolveCollection(nameOrID string) (string, error) {
	if id, ok := c.Collections[nameOrID]; ok {
		return id, nil
	}
	if nameOrID == "" {
		return "", fmt.Errorf("collection is required")
	}
	return nameOrID, nil
}

// EffectiveCacheTTL returns the configured cache TTL, or DefaultCacheTTL if
// the key was omitted.
func (c *Config) EffectiveCacheTTL() time.Duration {
	if c.CacheTTL == nil {
		return DefaultCacheTTL
	}
	return *c.CacheTTL
}

// EffectiveCachePath returns the configured cache path, or DefaultCachePath
// if the key was omitted.
func (c *Config) EffectiveCachePath() (string, error) {
	if c.CachePath != "" {
		return c.CachePath, nil
	}
	return DefaultCachePath()
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	u, err := url.ParseRequestURI(c.StoreURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("store_url %q must be a valid http or https URL", c.StoreURL)
	}

	switch {
	case c.APIToken != "" && (c.Username != "" || c.Password != ""):
		return fmt.Errorf("api_token and username/password are mutually exclusive")
	case c.APIToken == "" && (c.Username == "" || c.Password == ""):
		return fmt.Errorf("api_token or username and password are required")
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize < 1 || c.BatchSize > maxRecordsPerCall {
		return fmt.Errorf("batch_size %d out of range (1..%d)", c.BatchSize, maxRecordsPerCall)
	}

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 1 || c.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency %d out of range (1..%d)", c.Concurrency, maxConcurrency)
	}

	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.MaxRetryAttempts < 1 || c.MaxRetryAttempts > maxRetryAttempts {
		return fmt.Errorf("max_retry_attempts %d out of range (1..%d)", c.MaxRetryAttempts, maxRetryAttempts)
	}

	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("retry_base_delay %v must be positive", c.RetryBaseDelay)
	}

	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize < 1 || c.PageSize > maxRecordsPerCall {
		return fmt.Errorf("page_size %d out of range (1..%d)", c.PageSize, maxRecordsPerCall)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout %v must be positive", c.RequestTimeout)
	}

	if c.CacheTTL != nil && *c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl %v must not be negative", *c.CacheTTL)
	}

	if c.NoMembershipFields == nil {
		c.NoMembershipFields = []string{"date"}
	}
	for _, f := range c.NoMembershipFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("no_membership_fields contains an empty field name")
		}
	}

	for name, id := range c.Collections {
		if name == "" {
			return fmt.Errorf("collections contains an empty name")
		}
		if id == "" {
			return fmt.Errorf("collections[%q] has an empty app ID", name)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
