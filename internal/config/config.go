// Package config loads agenthost settings from a YAML file and the
// environment.
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

const EnvPrefix = "AGENTHOST_"

// Bus kinds.
const (
	BusRedis = "redis"
	BusLocal = "local"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

type HTTP struct {
	Listen      string   `yaml:"listen"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Host struct {
	TopicPrefix        string        `yaml:"topic_prefix"`
	MailboxSize        int           `yaml:"mailbox_size"`
	MaxConcurrentHooks int           `yaml:"max_concurrent_hooks"`
	HookTimeout        time.Duration `yaml:"hook_timeout"`
}

type Config struct {
	Bus      string `yaml:"bus"`
	Manifest string `yaml:"manifest"`
	Redis    Redis  `yaml:"redis"`
	HTTP     HTTP   `yaml:"http"`
	Host     Host   `yaml:"host"`
}

func Default() Config {
	return Config{
		Bus:      BusRedis,
		Manifest: "package.json",
		Redis:    Redis{Addr: "localhost:6379"},
		HTTP: HTTP{
			Listen:      ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Host: Host{
			TopicPrefix:        "background.",
			MailboxSize:        64,
			MaxConcurrentHooks: 8,
		},
	}
}

// Load reads path on top of Default and applies AGENTHOST_* overrides.
// An empty path skips the file. The result is not validated so callers can
// apply their own overrides first; call Validate afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("BUS", &c.Bus)
	str("MANIFEST", &c.Manifest)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LISTEN", &c.HTTP.Listen)
	str("JWT_SECRET", &c.HTTP.JWTSecret)
	str("TOPIC_PREFIX", &c.Host.TopicPrefix)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.HTTP.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.CORSOrigins = append(c.HTTP.CORSOrigins, o)
			}
		}
	}
	if v, ok := lookup(EnvPrefix + "HOOK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sHOOK_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Host.HookTimeout = d
	}
	return errors.Join(
		num("REDIS_DB", &c.Redis.DB),
		num("MAILBOX_SIZE", &c.Host.MailboxSize),
		num("MAX_CONCURRENT_HOOKS", &c.Host.MaxConcurrentHooks),
	)
}

func (c Config) Validate() error {
	switch c.Bus {
	case BusRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis bus")
		}
	case BusLocal:
	default:
		return fmt.Errorf("config: unknown bus %q", c.Bus)
	}
	if c.Host.MailboxSize < 1 {
		return fmt.Errorf("config: mailbox_size must be positive, got %d", c.Host.MailboxSize)
	}
	if c.Host.MaxConcurrentHooks < 1 {
		return fmt.Errorf("config: max_concurrent_hooks must be positive, got %d", c.Host.MaxConcurrentHooks)
	}
	if c.Host.HookTimeout < 0 {
		return fmt.Errorf("config: hook_timeout must not be negative")
	}
	return nil
}
