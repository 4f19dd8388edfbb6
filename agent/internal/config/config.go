package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultRunInterval = time.Hour
	DefaultBufferSize  = 1000
	DefaultPageSize    = 10000
	DefaultBatchSize   = 5000
	MaxBatchSize       = 10000
	DefaultRetryDelay  = 60 * time.Second
	DefaultMemoPath    = "memo/position.txt"
	DefaultTimezone    = "UTC"
)

// Config is the top-level agent configuration. Fields map 1:1 to
// config.example.yaml; the `server:` key of a shared file is ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of adlens-server (http://host:port).
	// Empty disables shipping; results then only go to Sinks.
	ServerEndpoint string `yaml:"server_endpoint"`

	// RunInterval controls how often every job is run.
	RunInterval time.Duration `yaml:"run_interval"`

	// BufferSize is the maximum number of results held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Timezone is the ad account's IANA time zone. Budget periods and
	// holiday checks are evaluated in it.
	Timezone string `yaml:"timezone"`

	// ServerAuth configures how the agent authenticates to adlens-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Sources   []Source        `yaml:"sources"`
	Jobs      []Job           `yaml:"jobs"`
	Sinks     []Sink          `yaml:"sinks"`
	Memo      MemoConfig      `yaml:"memo"`
	Mutations MutationsConfig `yaml:"mutations"`
}

// Location resolves Timezone, falling back to UTC.
func (a AgentConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Source describes one report backend.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the backend: csv | http | postgres.
	Type string `yaml:"type"`

	// Path is the report file, for Type == "csv".
	Path string `yaml:"path"`

	// Encoding of the csv file: utf-8 (default) | shift_jis | euc-jp | utf-16.
	Encoding string `yaml:"encoding"`

	// Delimiter of the csv file; "tab" or "\t" for TSV downloads.
	Delimiter string `yaml:"delimiter"`

	// Endpoint is the report URL, for Type == "http".
	Endpoint string `yaml:"endpoint"`

	// SQL selects report-shaped rows, for Type == "postgres".
	SQL string `yaml:"sql"`

	// OrderBy lists the columns, optionally followed by ASC or DESC, that
	// give the SQL rows a stable total order across pages.
	OrderBy []string `yaml:"order_by"`

	// DSNEnv names the environment variable holding the postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// PageSize is the number of rows fetched per request.
	PageSize int `yaml:"page_size"`

	// Timeout bounds one HTTP page request.
	Timeout time.Duration `yaml:"timeout"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

var orderColumn = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*( (?i:asc|desc))?$`)

// DSN returns the postgres DSN resolved from the environment.
func (s Source) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// AuthConfig specifies the authentication mode for an HTTP peer.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in. Defaults to x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token, for Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the configured API key header, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Filter selects campaigns and ad groups. See report.Filter.
type Filter struct {
	CampaignNameContains []string `yaml:"campaign_name_contains"`
	CampaignNameExcludes []string `yaml:"campaign_name_excludes"`
	CampaignIDs          []string `yaml:"campaign_ids"`
	AdGroupNameContains  []string `yaml:"ad_group_name_contains"`
	Labels               []string `yaml:"labels"`
	MinImpressions       int64    `yaml:"min_impressions"`
}

// Sink describes one result output.
type Sink struct {
	// Type is one of: json | prometheus | minio | kafka.
	Type string `yaml:"type"`

	// Path is the output directory (json) or textfile path (prometheus).
	Path string `yaml:"path"`

	// MinIO / S3 fields.
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Secure       bool   `yaml:"secure"`
	Region       string `yaml:"region"`

	// Kafka fields.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AccessKey returns the object-store access key resolved from the environment.
func (s Sink) AccessKey() string {
	if s.AccessKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.AccessKeyEnv)
}

// SecretKey returns the object-store secret key resolved from the environment.
func (s Sink) SecretKey() string {
	if s.SecretKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.SecretKeyEnv)
}

// MemoConfig selects where position-bidding memos persist between runs.
type MemoConfig struct {
	// Backend is one of: file | redis.
	Backend string `yaml:"backend"`

	// Path is the memo file, for Backend == "file".
	Path string `yaml:"path"`

	// Addr, PasswordEnv and Prefix configure Backend == "redis".
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	Prefix      string `yaml:"prefix"`
}

// Password returns the redis password resolved from the environment.
func (m MemoConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// MutationsConfig controls how proposed changes are applied.
type MutationsConfig struct {
	// Mode is one of: record (dry run, default) | http.
	Mode string `yaml:"mode"`

	// Endpoint receives JSON change batches, for Mode == "http".
	Endpoint string `yaml:"endpoint"`

	// BatchSize caps the changes sent per request (max 10000).
	BatchSize int `yaml:"batch_size"`

	// RetryDelay is the pause before the single retry of a failed batch.
	RetryDelay time.Duration `yaml:"retry_delay"`

	Auth AuthConfig `yaml:"auth"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			RunInterval: DefaultRunInterval,
			BufferSize:  DefaultBufferSize,
			LogLevel:    "info",
			Timezone:    DefaultTimezone,
			Memo: MemoConfig{
				Backend: "file",
				Path:    DefaultMemoPath,
				Prefix:  "adlens",
			},
			Mutations: MutationsConfig{
				Mode:       "record",
				BatchSize:  DefaultBatchSize,
				RetryDelay: DefaultRetryDelay,
			},
		},
	}
}

// applyDefaults fills list elements, which yaml cannot pre-populate.
func applyDefaults(cfg *Config) {
	for i := range cfg.Agent.Sources {
		if cfg.Agent.Sources[i].PageSize == 0 {
			cfg.Agent.Sources[i].PageSize = DefaultPageSize
		}
	}
	for i := range cfg.Agent.Jobs {
		cfg.Agent.Jobs[i].applyDefaults()
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.ServerEndpoint != "" {
		if err := ValidateURL(a.ServerEndpoint, ""); err != nil {
			return fmt.Errorf("agent.server_endpoint: %w", err)
		}
	}
	if a.RunInterval <= 0 {
		return fmt.Errorf("agent.run_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level %q unknown: want debug|info|warn|error", a.LogLevel)
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("agent.timezone %q: %w", a.Timezone, err)
	}
	if err := validateAuthMode("agent.server_auth", a.ServerAuth.Mode); err != nil {
		return err
	}

	sourceIDs := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if sourceIDs[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		sourceIDs[src.ID] = true
		switch src.Type {
		case "csv":
			if src.Path == "" {
				return fmt.Errorf("sources[%d] %q: path is required", i, src.ID)
			}
		case "http":
			if err := ValidateURL(src.Endpoint, ""); err != nil {
				return fmt.Errorf("sources[%d] %q: endpoint: %w", i, src.ID, err)
			}
		case "postgres":
			if src.SQL == "" || src.DSNEnv == "" {
				return fmt.Errorf("sources[%d] %q: sql and dsn_env are required", i, src.ID)
			}
			if len(src.OrderBy) == 0 {
				return fmt.Errorf("sources[%d] %q: order_by is required so pages do not overlap", i, src.ID)
			}
			for _, col := range src.OrderBy {
				if !orderColumn.MatchString(col) {
					return fmt.Errorf("sources[%d] %q: order_by %q is not a column name", i, src.ID, col)
				}
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		if src.PageSize < 0 {
			return fmt.Errorf("sources[%d] %q: page_size must not be negative", i, src.ID)
		}
		if err := validateAuthMode(fmt.Sprintf("sources[%d] %q", i, src.ID), src.Auth.Mode); err != nil {
			return err
		}
	}

	jobIDs := make(map[string]bool, len(a.Jobs))
	for i, job := range a.Jobs {
		if job.ID == "" {
			return fmt.Errorf("jobs[%d]: id is required", i)
		}
		if jobIDs[job.ID] {
			return fmt.Errorf("jobs[%d]: duplicate id %q", i, job.ID)
		}
		jobIDs[job.ID] = true
		if job.Kind != KindHoliday && !sourceIDs[job.Source] {
			return fmt.Errorf("jobs[%d] %q: unknown source %q", i, job.ID, job.Source)
		}
		if err := job.validate(); err != nil {
			return fmt.Errorf("jobs[%d] %q: %w", i, job.ID, err)
		}
	}

	for i, s := range a.Sinks {
		switch s.Type {
		case "json", "prometheus":
			if s.Path == "" {
				return fmt.Errorf("sinks[%d] %s: path is required", i, s.Type)
			}
		case "minio":
			if s.Endpoint == "" || s.Bucket == "" {
				return fmt.Errorf("sinks[%d] minio: endpoint and bucket are required", i)
			}
		case "kafka":
			if len(s.Brokers) == 0 || s.Topic == "" {
				return fmt.Errorf("sinks[%d] kafka: brokers and topic are required", i)
			}
		default:
			return fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type)
		}
	}

	switch a.Memo.Backend {
	case "file":
		if a.Memo.Path == "" {
			return fmt.Errorf("memo.path is required for the file backend")
		}
	case "redis":
		if a.Memo.Addr == "" {
			return fmt.Errorf("memo.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("memo.backend %q unknown: want file|redis", a.Memo.Backend)
	}

	m := a.Mutations
	switch m.Mode {
	case "record":
	case "http":
		if err := ValidateURL(m.Endpoint, ""); err != nil {
			return fmt.Errorf("mutations.endpoint: %w", err)
		}
	default:
		return fmt.Errorf("mutations.mode %q unknown: want record|http", m.Mode)
	}
	if m.BatchSize <= 0 || m.BatchSize > MaxBatchSize {
		return fmt.Errorf("mutations.batch_size %d out of range [1, %d]", m.BatchSize, MaxBatchSize)
	}
	if m.RetryDelay < 0 {
		return fmt.Errorf("mutations.retry_delay must not be negative")
	}
	return nil
}

func validateAuthMode(where, mode string) error {
	switch mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
		return nil
	default:
		return fmt.Errorf("%s: unknown auth mode %q", where, mode)
	}
}
