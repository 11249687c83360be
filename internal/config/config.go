// Package config loads orchestrator configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the orchestrator configuration.
type Config struct {
	// OrgPrefix is the organization prefix used in every derived resource
	// name (account display names, buckets, tables, policies, budgets).
	OrgPrefix string `yaml:"org_prefix"`

	// TrustRoleName is the role assumed inside each new member account.
	// AWS Organizations pre-creates it when the account is provisioned.
	TrustRoleName string `yaml:"trust_role_name"`

	// OpsEmail receives budget alerts alongside the developer.
	OpsEmail string `yaml:"ops_email"`

	// DefaultRegions is the allowed region set for accounts that do not
	// request one.
	DefaultRegions []string `yaml:"default_regions"`

	// AllowedInstanceTypes bounds compute instance classes in the
	// permission boundary (wildcard patterns, e.g. "t3.*").
	AllowedInstanceTypes []string `yaml:"allowed_instance_types"`

	// ArtifactsDir is where onboarding artifacts are written.
	ArtifactsDir string `yaml:"artifacts_dir"`

	// ArchiveDir is where offboarding archives are written.
	ArchiveDir string `yaml:"archive_dir"`

	// InventoryDSN selects the inventory backend. Paths ending in .db use
	// sqlite; postgres:// URLs use postgres (when built with the postgres
	// tag); "memory" keeps everything in-process.
	InventoryDSN string `yaml:"inventory_dsn"`

	// PropagationWait is the settling interval after account creation
	// before the first assume-role attempt.
	PropagationWait time.Duration `yaml:"propagation_wait"`

	// SessionDuration bounds cross-account session lifetimes.
	SessionDuration time.Duration `yaml:"session_duration"`

	// MaxRetries bounds retries of transient step failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial backoff; doubled per attempt up to
	// RetryBackoffCap.
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffCap time.Duration `yaml:"retry_backoff_cap"`

	// RequestTimeout caps each individual cloud API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// CostLookback is the billing window exported during offboarding.
	CostLookback time.Duration `yaml:"cost_lookback"`
}

// Defaults mirrors the values used when a field is absent from both the YAML
// file and the environment.
func Defaults() *Config {
	return &Config{
		OrgPrefix:            "acme",
		TrustRoleName:        "OrganizationAccountAccessRole",
		DefaultRegions:       []string{"us-east-1"},
		AllowedInstanceTypes: []string{"t3.*", "t4g.*"},
		ArtifactsDir:         "artifacts",
		ArchiveDir:           "archive",
		InventoryDSN:         "devaccounts.db",
		PropagationWait:      60 * time.Second,
		SessionDuration:      time.Hour,
		MaxRetries:           5,
		RetryBackoff:         5 * time.Second,
		RetryBackoffCap:      2 * time.Minute,
		RequestTimeout:       30 * time.Second,
		CostLookback:         90 * 24 * time.Hour,
	}
}

// Load reads configuration from a YAML file (if path is non-empty) and then
// applies DEVACCOUNTS_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DEVACCOUNTS_ORG_PREFIX"); v != "" {
		cfg.OrgPrefix = v
	}
	if v := os.Getenv("DEVACCOUNTS_TRUST_ROLE"); v != "" {
		cfg.TrustRoleName = v
	}
	if v := os.Getenv("DEVACCOUNTS_OPS_EMAIL"); v != "" {
		cfg.OpsEmail = v
	}
	if v := os.Getenv("DEVACCOUNTS_REGIONS"); v != "" {
		cfg.DefaultRegions = strings.Split(v, ",")
	}
	if v := os.Getenv("DEVACCOUNTS_ARTIFACTS_DIR"); v != "" {
		cfg.ArtifactsDir = v
	}
	if v := os.Getenv("DEVACCOUNTS_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("DEVACCOUNTS_INVENTORY_DSN"); v != "" {
		cfg.InventoryDSN = v
	}
	if v := os.Getenv("DEVACCOUNTS_PROPAGATION_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PropagationWait = d
		}
	}
	if v := os.Getenv("DEVACCOUNTS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("DEVACCOUNTS_RETRY_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryBackoff = d
		}
	}
	if v := os.Getenv("DEVACCOUNTS_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	if c.OrgPrefix == "" {
		return errors.New("org_prefix is required")
	}
	if strings.ContainsAny(c.OrgPrefix, " _.") || strings.ToLower(c.OrgPrefix) != c.OrgPrefix {
		return fmt.Errorf("org_prefix %q must be lowercase without spaces, dots or underscores", c.OrgPrefix)
	}
	if c.TrustRoleName == "" {
		return errors.New("trust_role_name is required")
	}
	if len(c.DefaultRegions) == 0 {
		return errors.New("default_regions cannot be empty")
	}
	if c.SessionDuration <= 0 || c.SessionDuration > time.Hour {
		return fmt.Errorf("session_duration %s must be in (0, 1h]", c.SessionDuration)
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	return nil
}
