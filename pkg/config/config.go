// Package config loads runtime settings from defaults, an optional YAML
// file, an optional .env file and the environment, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"` // "text" | "json"
	ContractsDir      string        `yaml:"contracts_dir"`
	RegistryDSN       string        `yaml:"registry_dsn"` // Postgres contract store, optional
	PolicyPacks       []string      `yaml:"policy_packs"`
	Strict            bool          `yaml:"strict"` // guards return an error on blocked handoffs
	ApprovalThreshold float64       `yaml:"approval_threshold"`
	OTLPEndpoint      string        `yaml:"otlp_endpoint"` // empty disables telemetry export
	Audit             AuditConfig   `yaml:"audit"`
	Archive           ArchiveConfig `yaml:"archive"`
}

type AuditConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Async     bool   `yaml:"async"`
	QueueSize int    `yaml:"queue_size"`
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

type ArchiveConfig struct {
	Type     string `yaml:"type"` // "fs" | "s3" | "gcs"
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns development defaults: in-memory audit, local archive.
func Default() *Config {
	return &Config{
		LogLevel:          "INFO",
		LogFormat:         "text",
		ContractsDir:      "contracts",
		PolicyPacks:       []string{},
		Strict:            true,
		ApprovalThreshold: 10000,
		Audit: AuditConfig{
			Driver:    DriverMemory,
			QueueSize: 256,
			Stream:    "failsafe:handoffs",
		},
		Archive: ArchiveConfig{
			Type: "fs",
			Dir:  "data/evidence",
		},
	}
}

// Load builds the configuration. The YAML file named by FAILSAFE_CONFIG
// overrides defaults; variables from the .env file (FAILSAFE_ENV_FILE,
// default ".env") fill in the environment without replacing variables
// that are already set; the environment overrides everything.
func Load() (*Config, error) {
	envFile := os.Getenv("FAILSAFE_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("FAILSAFE_CONFIG"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("FAILSAFE_CONTRACTS_DIR", &cfg.ContractsDir)
	str("FAILSAFE_REGISTRY_DSN", &cfg.RegistryDSN)
	str("FAILSAFE_AUDIT_DRIVER", &cfg.Audit.Driver)
	str("FAILSAFE_AUDIT_DSN", &cfg.Audit.DSN)
	str("REDIS_ADDR", &cfg.Audit.RedisAddr)
	str("FAILSAFE_AUDIT_STREAM", &cfg.Audit.Stream)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	str("FAILSAFE_ARCHIVE_TYPE", &cfg.Archive.Type)
	str("FAILSAFE_ARCHIVE_DIR", &cfg.Archive.Dir)
	str("FAILSAFE_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	str("FAILSAFE_ARCHIVE_PREFIX", &cfg.Archive.Prefix)
	str("FAILSAFE_ARCHIVE_REGION", &cfg.Archive.Region)
	str("FAILSAFE_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)

	if v := os.Getenv("FAILSAFE_POLICY_PACKS"); v != "" {
		cfg.PolicyPacks = splitList(v)
	}

	var errs []error
	if v := os.Getenv("FAILSAFE_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("FAILSAFE_STRICT", err))
		if err == nil {
			cfg.Strict = b
		}
	}
	if v := os.Getenv("FAILSAFE_AUDIT_ASYNC"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("FAILSAFE_AUDIT_ASYNC", err))
		if err == nil {
			cfg.Audit.Async = b
		}
	}
	if v := os.Getenv("FAILSAFE_APPROVAL_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("FAILSAFE_APPROVAL_THRESHOLD", err))
		if err == nil {
			cfg.ApprovalThreshold = f
		}
	}
	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", key, err)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the binary cannot act on.
func (c *Config) Validate() error {
	switch c.Audit.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit driver %q requires FAILSAFE_AUDIT_DSN", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("unknown audit driver %q", c.Audit.Driver)
	}
	switch c.Archive.Type {
	case "fs":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive type %q requires a bucket", c.Archive.Type)
		}
	default:
		return fmt.Errorf("unknown archive type %q", c.Archive.Type)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.ApprovalThreshold < 0 {
		return fmt.Errorf("approval threshold must not be negative")
	}
	return nil
}
