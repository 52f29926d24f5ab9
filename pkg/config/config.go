package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-layers/pkg/models"
	"github.com/ekaya-inc/ekaya-layers/pkg/services"
)

// DefaultConfigPath is read when present; environment variables always win.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-layers.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MCPEnabled exposes the layer tools over MCP at /mcp.
	MCPEnabled bool `yaml:"mcp_enabled" env:"MCP_ENABLED" env-default:"true"`

	// Database configuration (PostgreSQL with PostGIS)
	Database DatabaseConfig `yaml:"database"`

	// Layer query validation and execution
	Layers LayersConfig `yaml:"layers"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"layers"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"gis"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"1"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// LayersConfig tunes the layer query pipeline.
type LayersConfig struct {
	// DefaultLevel applies when a request names no validation level.
	DefaultLevel string `yaml:"default_level" env:"LAYERS_DEFAULT_LEVEL" env-default:"strict"`
	// MaxQueryLength rejects longer query text before any scanning.
	MaxQueryLength int `yaml:"max_query_length" env:"LAYERS_MAX_QUERY_LENGTH" env-default:"10000"`
	// MaxPlanCost rejects queries whose estimated plan cost is higher.
	MaxPlanCost float64 `yaml:"max_plan_cost" env:"LAYERS_MAX_PLAN_COST" env-default:"10000"`
	// MaxPageSize caps feature pages and is the default page size.
	MaxPageSize int `yaml:"max_page_size" env:"LAYERS_MAX_PAGE_SIZE" env-default:"1000"`
	// StatementTimeout is set on every borrowed session.
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"LAYERS_STATEMENT_TIMEOUT" env-default:"30s"`
	// AcquireRetries is how many times a pool acquire is retried.
	AcquireRetries int `yaml:"acquire_retries" env:"LAYERS_ACQUIRE_RETRIES" env-default:"3"`
	// PolicyFile optionally replaces the built-in keyword and function lists.
	PolicyFile string `yaml:"policy_file" env:"LAYERS_POLICY_FILE" env-default:""`
}

// PolicyFile is the on-disk form of the validator's keyword and function
// lists. An omitted list keeps the built-in default.
type PolicyFile struct {
	DeniedKeywords   []string `yaml:"denied_keywords"`
	AllowedFunctions []string `yaml:"allowed_functions"`
}

// Load reads config.yaml if it exists, with environment variable overrides.
// The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from path if it exists, else from the
// environment alone.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Layers.validate(); err != nil {
		return nil, fmt.Errorf("invalid layers configuration: %w", err)
	}

	return cfg, nil
}

func (l *LayersConfig) validate() error {
	if _, err := models.ParseValidationLevel(l.DefaultLevel); err != nil {
		return err
	}
	if l.MaxQueryLength <= 0 {
		return fmt.Errorf("max_query_length must be positive, got %d", l.MaxQueryLength)
	}
	if l.MaxPlanCost <= 0 {
		return fmt.Errorf("max_plan_cost must be positive, got %g", l.MaxPlanCost)
	}
	if l.MaxPageSize <= 0 {
		return fmt.Errorf("max_page_size must be positive, got %d", l.MaxPageSize)
	}
	if l.StatementTimeout < 0 {
		return fmt.Errorf("statement_timeout must not be negative, got %s", l.StatementTimeout)
	}
	if l.AcquireRetries < 0 {
		return fmt.Errorf("acquire_retries must not be negative, got %d", l.AcquireRetries)
	}
	return nil
}

// Level returns the parsed default validation level.
func (l *LayersConfig) Level() models.ValidationLevel {
	level, err := models.ParseValidationLevel(l.DefaultLevel)
	if err != nil {
		return models.ValidationLevelStrict
	}
	return level
}

// ValidatorPolicy builds the validator policy: built-in lists, replaced by
// whatever the policy file provides, plus the configured limits.
func (l *LayersConfig) ValidatorPolicy() (services.ValidatorPolicy, error) {
	policy := services.DefaultValidatorPolicy()
	policy.MaxQueryLength = l.MaxQueryLength
	policy.MaxPlanCost = l.MaxPlanCost

	if l.PolicyFile == "" {
		return policy, nil
	}

	file, err := LoadPolicyFile(l.PolicyFile)
	if err != nil {
		return services.ValidatorPolicy{}, err
	}
	if file.DeniedKeywords != nil {
		policy.DeniedKeywords = file.DeniedKeywords
	}
	if file.AllowedFunctions != nil {
		policy.AllowedFunctions = file.AllowedFunctions
	}
	return policy, nil
}

// LoadPolicyFile reads a policy file. Unknown keys are rejected so a typo
// cannot silently leave the defaults in force.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var policy PolicyFile
	if err := dec.Decode(&policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return &policy, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		resolveHost(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// resolveHost points loopback hosts at the Docker host gateway when running
// inside a container, where localhost is the container itself.
func resolveHost(host string) string {
	if host != "localhost" && host != "127.0.0.1" {
		return host
	}
	if _, err := os.Stat("/.dockerenv"); err != nil {
		return host
	}
	return "host.docker.internal"
}
