package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string           `yaml:"listen_addr"`
	DB          DBConfig         `yaml:"db"`
	CatalogPath string           `yaml:"catalog_path"`
	SigningKey  SigningKeyConfig `yaml:"signing_key"`
	Auth        AuthConfig       `yaml:"auth"`
	Moderation  ModerationConfig `yaml:"moderation"`
	Events      EventsConfig     `yaml:"events"`
	Log         LogConfig        `yaml:"log"`
}

type DBConfig struct {
	// Driver is memory, sqlite or postgres. Empty means memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SigningKeyConfig struct {
	// PrivateKeyPath holds an Ed25519 seed or private key. Receipts are
	// disabled when empty.
	PrivateKeyPath string `yaml:"private_key_path"`
}

type AuthConfig struct {
	DevToken  string `yaml:"dev_token"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type ModerationConfig struct {
	BatchParallelism int `yaml:"batch_parallelism"`
	// LockBackend is memory or redis.
	LockBackend string        `yaml:"lock_backend"`
	RedisAddr   string        `yaml:"redis_addr"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

type EventsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	NATSURL      string        `yaml:"nats_url"`
	Subject      string        `yaml:"subject"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) ApplyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "memory"
	}
	if c.Moderation.BatchParallelism <= 0 {
		c.Moderation.BatchParallelism = 8
	}
	if c.Moderation.LockBackend == "" {
		c.Moderation.LockBackend = "memory"
	}
	if c.Moderation.LockTTL <= 0 {
		c.Moderation.LockTTL = 30 * time.Second
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "curator.decisions"
	}
	if c.Events.PollInterval <= 0 {
		c.Events.PollInterval = 2 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.DB.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is %s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unsupported db.driver: %s", c.DB.Driver)
	}

	switch c.Moderation.LockBackend {
	case "", "memory":
	case "redis":
		if c.Moderation.RedisAddr == "" {
			return fmt.Errorf("moderation.redis_addr is required when moderation.lock_backend=redis")
		}
	default:
		return fmt.Errorf("unsupported moderation.lock_backend: %s", c.Moderation.LockBackend)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events.enabled=true")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log.format: %s", c.Log.Format)
	}

	return nil
}
