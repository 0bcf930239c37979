package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	Quote        string `yaml:"quote"`
}

type Config struct {
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Price     struct {
		Source  string        `yaml:"source"` // rest | ws
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"price"`
	Close struct {
		Attempts int           `yaml:"attempts"`
		Backoff  time.Duration `yaml:"backoff"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"close"`
	Storage struct {
		StateDir    string `yaml:"state_dir"`
		JournalPath string `yaml:"journal_path"` // empty disables the journal
	} `yaml:"storage"`
	Lock struct {
		Backend       string        `yaml:"backend"` // file | redis
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		TTL           time.Duration `yaml:"ttl"`
	} `yaml:"lock"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Watch struct {
		Interval    time.Duration `yaml:"interval"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"watch"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Exchanges) == 0 {
		c.Exchanges = []ExchangeConfig{{Name: "bybit"}}
	}
	for i := range c.Exchanges {
		if c.Exchanges[i].RESTEndpoint == "" {
			c.Exchanges[i].RESTEndpoint = exchange.BybitBaseURL
		}
		if c.Exchanges[i].WSEndpoint == "" {
			c.Exchanges[i].WSEndpoint = exchange.BybitWSURL
		}
		if c.Exchanges[i].Quote == "" {
			c.Exchanges[i].Quote = exchange.DefaultQuote
		}
	}
	if c.Price.Source == "" {
		c.Price.Source = "rest"
	}
	if c.Price.Timeout <= 0 {
		c.Price.Timeout = usecase.DefaultPriceTimeout
	}
	if c.Close.Attempts <= 0 {
		c.Close.Attempts = usecase.DefaultCloseAttempts
	}
	if c.Close.Backoff <= 0 {
		c.Close.Backoff = usecase.DefaultCloseBackoff
	}
	if c.Close.Timeout <= 0 {
		c.Close.Timeout = usecase.DefaultCloseTimeout
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "state"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = "file"
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = storage.DefaultRedisLockTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = usecase.DefaultWatchInterval
	}
	if c.Watch.Concurrency <= 0 {
		c.Watch.Concurrency = usecase.DefaultWatchConcurrency
	}
}

func (c *Config) validate() error {
	switch c.Price.Source {
	case "rest", "ws":
	default:
		return fmt.Errorf("price.source must be rest or ws, got %q", c.Price.Source)
	}
	switch c.Lock.Backend {
	case "file":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("lock.backend must be file or redis, got %q", c.Lock.Backend)
	}
	return nil
}
