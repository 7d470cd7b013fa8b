// Package config loads the txgate service configuration.
//
// Files may be YAML or TOML, chosen by extension. Missing fields keep the
// values from Default. A few deployment settings can be overridden with
// TXGATE_* environment variables; signing keys are never read from the
// config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txgate/internal/policy"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Duration is a time.Duration written as "10m", "30s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Listen string `yaml:"listen" toml:"listen"`

	Store StoreConfig `yaml:"store" toml:"store"`

	DefaultTTL         Duration `yaml:"default_ttl" toml:"default_ttl"`
	ConsumedStaleAfter Duration `yaml:"consumed_stale_after" toml:"consumed_stale_after"`
	SweepInterval      Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	SecondFactorMode   string   `yaml:"second_factor_mode" toml:"second_factor_mode"`

	// AuditLog is the JSONL audit file; empty disables auditing.
	AuditLog string `yaml:"audit_log" toml:"audit_log"`

	// PolicyFile, when set, replaces Policy and is watched for changes.
	PolicyFile string        `yaml:"policy_file" toml:"policy_file"`
	Policy     policy.Config `yaml:"policy" toml:"policy"`

	EVM    EVMConfig    `yaml:"evm" toml:"evm"`
	Solana SolanaConfig `yaml:"solana" toml:"solana"`
	Sui    SuiConfig    `yaml:"sui" toml:"sui"`
}

// StoreConfig selects and locates the confirmation store.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`

	// InFlightWindow keeps expired consumed rows so a slow broadcast can
	// still record its outcome.
	InFlightWindow Duration `yaml:"in_flight_window" toml:"in_flight_window"`
}

// EVMConfig configures the EVM adapter. RPC is keyed by decimal chain id.
type EVMConfig struct {
	RPC      map[string]string `yaml:"rpc" toml:"rpc"`
	Mainnets []uint64          `yaml:"mainnets" toml:"mainnets"`
}

// SolanaConfig configures the Solana adapter. RPC is keyed by cluster.
type SolanaConfig struct {
	RPC           map[string]string `yaml:"rpc" toml:"rpc"`
	SkipPreflight bool              `yaml:"skip_preflight" toml:"skip_preflight"`
}

// SuiConfig configures the Sui adapter. RPC is keyed by network.
type SuiConfig struct {
	RPC        map[string]string `yaml:"rpc" toml:"rpc"`
	SkipDryRun bool              `yaml:"skip_dry_run" toml:"skip_dry_run"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8645",
		Store: StoreConfig{
			Driver:         DriverSQLite,
			Path:           filepath.Join(".txgate", "pending.db"),
			InFlightWindow: Duration(10 * time.Minute),
		},
		DefaultTTL:         Duration(10 * time.Minute),
		ConsumedStaleAfter: Duration(30 * time.Second),
		SweepInterval:      Duration(time.Minute),
		SecondFactorMode:   "single_step",
		Policy:             policy.Default(),
	}
}

// Load reads path (YAML or TOML by extension) over Default, applies
// environment overrides and validates the result. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode YAML: %w", err)
			}
		case ".toml":
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("decode TOML: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", ext)
		}
		if cfg.PolicyFile != "" && !filepath.IsAbs(cfg.PolicyFile) {
			cfg.PolicyFile = filepath.Join(filepath.Dir(path), cfg.PolicyFile)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TXGATE_LISTEN, TXGATE_STORE_DRIVER,
// TXGATE_STORE_PATH, TXGATE_STORE_DSN and TXGATE_AUDIT_LOG.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TXGATE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("TXGATE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("TXGATE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TXGATE_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("TXGATE_AUDIT_LOG"); v != "" {
		c.AuditLog = v
	}
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration, including the inline policy.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			add("store.path", "required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			add("store.dsn", "required for the postgres driver")
		}
	default:
		add("store.driver", "unknown driver %q (want %s or %s)", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Store.InFlightWindow < 0 {
		add("store.in_flight_window", "must not be negative")
	}
	if c.DefaultTTL.Std() <= 0 || c.DefaultTTL.Std() > 24*time.Hour {
		add("default_ttl", "must be within (0, 24h], got %s", c.DefaultTTL.Std())
	}
	if c.ConsumedStaleAfter.Std() <= 0 {
		add("consumed_stale_after", "must be positive")
	}
	if c.SweepInterval.Std() <= 0 {
		add("sweep_interval", "must be positive")
	}
	switch c.SecondFactorMode {
	case "single_step", "two_step":
	default:
		add("second_factor_mode", "unknown mode %q (want single_step or two_step)", c.SecondFactorMode)
	}
	for id := range c.EVM.RPC {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			add("evm.rpc", "key %q is not a chain id", id)
		}
	}

	if c.PolicyFile == "" {
		if err := policy.Validate(c.Policy); err != nil {
			var pes policy.ValidationErrors
			if errors.As(err, &pes) {
				for _, pe := range pes {
					add("policy."+pe.Path, "%s", pe.Message)
				}
			} else {
				add("policy", "%v", err)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// EVMRPC returns the EVM endpoints keyed by numeric chain id. Validate has
// already rejected non-numeric keys.
func (c *Config) EVMRPC() map[uint64]string {
	out := make(map[uint64]string, len(c.EVM.RPC))
	for k, v := range c.EVM.RPC {
		if id, err := strconv.ParseUint(k, 10, 64); err == nil {
			out[id] = v
		}
	}
	return out
}
