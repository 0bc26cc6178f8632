package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"anchorage/internal/anchoring/policy"
	strutil "anchorage/pkg/platform/strings"

	"gopkg.in/yaml.v3"
)

const (
	LedgerModeMemory   = "memory"
	LedgerModeEthereum = "ethereum"
)

// Ops captures the operational HTTP surface.
type Ops struct {
	Addr string `yaml:"addr"`
	// TokenKey signs operator bearer tokens for the admin routes. Empty
	// disables them.
	TokenKey string `yaml:"-"`
}

// Database selects the SQL driver and DSN. An empty URL runs in memory.
type Database struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"-"`
}

// RedisConfig tunes the trust cache connection. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"-"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Trust configures the oracle chain.
type Trust struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	AttestationKey string        `yaml:"-"`
}

// Kafka configures the audit outbox relay. No brokers disables it.
type Kafka struct {
	Brokers       []string      `yaml:"brokers"`
	AuditTopic    string        `yaml:"audit_topic"`
	RelayInterval time.Duration `yaml:"relay_interval"`
	RelayBatch    int           `yaml:"relay_batch"`
}

// Ledger selects and configures the anchor network client.
type Ledger struct {
	Mode            string        `yaml:"mode"`
	RPCURL          string        `yaml:"rpc_url"`
	ChainID         int64         `yaml:"chain_id"`
	ContractAddress string        `yaml:"contract_address"`
	PrivateKey      string        `yaml:"-"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	FromBlock       uint64        `yaml:"from_block"`
}

// Policy holds the eligibility thresholds.
type Policy struct {
	FreezeThreshold  int           `yaml:"freeze_trust_threshold"`
	MintThreshold    int           `yaml:"mint_trust_threshold"`
	MaturationWindow time.Duration `yaml:"maturation_window"`
}

// Reconcile schedules the sweep over entities stuck in minting.
type Reconcile struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	Batch       int           `yaml:"batch"`
	Concurrency int           `yaml:"concurrency"`
}

// Config is the full process configuration. Secrets are only read from the
// environment, never from the overlay file.
type Config struct {
	LogLevel  string      `yaml:"log_level"`
	Ops       Ops         `yaml:"ops"`
	Database  Database    `yaml:"database"`
	Redis     RedisConfig `yaml:"redis"`
	Trust     Trust       `yaml:"trust"`
	Kafka     Kafka       `yaml:"kafka"`
	Ledger    Ledger      `yaml:"ledger"`
	Policy    Policy      `yaml:"policy"`
	Reconcile Reconcile   `yaml:"reconcile"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	p := policy.DefaultConfig()
	return Config{
		LogLevel: "info",
		Ops:      Ops{Addr: ":9090"},
		Database: Database{Driver: "postgres"},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Trust: Trust{CacheTTL: 30 * time.Second},
		Kafka: Kafka{
			AuditTopic:    "anchorage.audit",
			RelayInterval: 2 * time.Second,
			RelayBatch:    100,
		},
		Ledger: Ledger{
			Mode:           LedgerModeMemory,
			ConfirmTimeout: 10 * time.Minute,
			PollInterval:   2 * time.Second,
		},
		Policy: Policy{
			FreezeThreshold:  p.FreezeThreshold,
			MintThreshold:    p.MintThreshold,
			MaturationWindow: p.MaturationWindow,
		},
		Reconcile: Reconcile{
			Interval:    5 * time.Minute,
			StaleAfter:  15 * time.Minute,
			Batch:       100,
			Concurrency: 4,
		},
	}
}

// FromEnv builds the config from defaults, the optional YAML overlay named by
// ANCHOR_CONFIG_FILE, then environment variables, and validates the result.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("ANCHOR_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{get: getenv}
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("ANCHOR_OPS_ADDR", &cfg.Ops.Addr)
	env.str("ANCHOR_OPS_TOKEN_KEY", &cfg.Ops.TokenKey)
	env.str("DATABASE_DRIVER", &cfg.Database.Driver)
	env.str("DATABASE_URL", &cfg.Database.URL)
	env.str("REDIS_URL", &cfg.Redis.URL)
	env.duration("TRUST_CACHE_TTL", &cfg.Trust.CacheTTL)
	env.str("TRUST_ATTESTATION_KEY", &cfg.Trust.AttestationKey)
	env.list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	env.str("AUDIT_TOPIC", &cfg.Kafka.AuditTopic)
	env.str("LEDGER_MODE", &cfg.Ledger.Mode)
	env.str("LEDGER_RPC_URL", &cfg.Ledger.RPCURL)
	env.integer64("LEDGER_CHAIN_ID", &cfg.Ledger.ChainID)
	env.str("LEDGER_CONTRACT_ADDRESS", &cfg.Ledger.ContractAddress)
	env.str("LEDGER_PRIVATE_KEY", &cfg.Ledger.PrivateKey)
	env.duration("LEDGER_CONFIRM_TIMEOUT", &cfg.Ledger.ConfirmTimeout)
	env.duration("MATURATION_WINDOW", &cfg.Policy.MaturationWindow)
	env.integer("FREEZE_TRUST_THRESHOLD", &cfg.Policy.FreezeThreshold)
	env.integer("MINT_TRUST_THRESHOLD", &cfg.Policy.MintThreshold)
	env.duration("RECONCILE_INTERVAL", &cfg.Reconcile.Interval)
	env.duration("RECONCILE_STALE_AFTER", &cfg.Reconcile.StaleAfter)
	if env.err != nil {
		return Config{}, env.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PolicyConfig converts the thresholds for the policy engine.
func (c Config) PolicyConfig() policy.Config {
	return policy.Config{
		FreezeThreshold:  c.Policy.FreezeThreshold,
		MintThreshold:    c.Policy.MintThreshold,
		MaturationWindow: c.Policy.MaturationWindow,
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.PolicyConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Database.URL != "" && c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or pgx, got %q", c.Database.Driver))
	}
	switch c.Ledger.Mode {
	case LedgerModeMemory:
	case LedgerModeEthereum:
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("LEDGER_RPC_URL is required in ethereum mode"))
		}
		if c.Ledger.ChainID <= 0 {
			errs = append(errs, errors.New("LEDGER_CHAIN_ID is required in ethereum mode"))
		}
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, errors.New("LEDGER_CONTRACT_ADDRESS is required in ethereum mode"))
		}
		if c.Ledger.PrivateKey == "" {
			errs = append(errs, errors.New("LEDGER_PRIVATE_KEY is required in ethereum mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_MODE must be memory or ethereum, got %q", c.Ledger.Mode))
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("LEDGER_CONFIRM_TIMEOUT must be positive"))
	}
	// A sweep must never race a mint that is still waiting for its receipt.
	if c.Reconcile.StaleAfter <= c.Ledger.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("RECONCILE_STALE_AFTER (%s) must exceed LEDGER_CONFIRM_TIMEOUT (%s)",
			c.Reconcile.StaleAfter, c.Ledger.ConfirmTimeout))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		errs = append(errs, errors.New("AUDIT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

// envReader applies overrides and keeps the first parse error.
type envReader struct {
	get func(string) string
	err error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v := e.get(key)
	if v == "" {
		return
	}
	*dst = strutil.DedupeAndTrim(strings.Split(v, ","))
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := e.get(key)
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (e *envReader) integer(key string, dst *int) {
	v := e.get(key)
	if v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) integer64(key string, dst *int64) {
	v := e.get(key)
	if v == "" || e.err != nil {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}
