// Package config loads the configuration of the producer and worker
// commands from a YAML file and OJS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openjobspec/ojs-otel-go/tracer"
)

// Broker drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverLmstfy = "lmstfy"
	DriverHTTP   = "http"
)

// Config is the configuration of an OJS process.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Tracer   tracer.Config  `mapstructure:"tracer"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lmstfy   LmstfyConfig   `mapstructure:"lmstfy"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Producer ProducerConfig `mapstructure:"producer"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// BrokerConfig selects the broker: memory, redis, lmstfy or http.
type BrokerConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	Retention time.Duration `mapstructure:"retention"`
}

type LmstfyConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Namespace string        `mapstructure:"namespace"`
	Token     string        `mapstructure:"token"`
	TTR       time.Duration `mapstructure:"ttr"`
	Tries     int           `mapstructure:"tries"`
}

// HTTPConfig points at an OJS HTTP server.
type HTTPConfig struct {
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type WorkerConfig struct {
	Name              string        `mapstructure:"name"`
	Queues            []string      `mapstructure:"queues"`
	Concurrency       int           `mapstructure:"concurrency"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type ProducerConfig struct {
	Queue string `mapstructure:"queue"`
	// Interval between two enqueued jobs.
	Interval time.Duration `mapstructure:"interval"`
	// Count of jobs to enqueue; zero runs until stopped.
	Count int `mapstructure:"count"`
}

// MetricsConfig exposes Prometheus metrics on Addr when it is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads the YAML file at path, if any, over the defaults and applies
// OJS_* environment overrides, for example OJS_BROKER_DRIVER=redis.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ojs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if cfg.Tracer.ServiceName == "" {
		cfg.Tracer.ServiceName = cfg.App.Name
	}
	if cfg.Tracer.AppEnv == "" {
		cfg.Tracer.AppEnv = cfg.App.Env
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ojs")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("tracer.service_name", "")
	v.SetDefault("tracer.app_env", "")
	v.SetDefault("tracer.enable_export", false)
	v.SetDefault("tracer.endpoint", "")
	v.SetDefault("tracer.insecure", false)
	v.SetDefault("tracer.propagators", []string{"tracecontext", "baggage"})
	v.SetDefault("tracer.sample_ratio", 1.0)

	v.SetDefault("broker.driver", DriverMemory)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ojs:")
	v.SetDefault("redis.retention", 24*time.Hour)

	v.SetDefault("lmstfy.host", "localhost")
	v.SetDefault("lmstfy.port", 7777)
	v.SetDefault("lmstfy.namespace", "ojs")
	v.SetDefault("lmstfy.token", "")
	v.SetDefault("lmstfy.ttr", time.Minute)
	v.SetDefault("lmstfy.tries", 1)

	v.SetDefault("http.url", "http://localhost:8080")
	v.SetDefault("http.auth_token", "")

	v.SetDefault("worker.name", "")
	v.SetDefault("worker.queues", []string{"default"})
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.grace_period", 25*time.Second)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.heartbeat_interval", 5*time.Second)

	v.SetDefault("producer.queue", "default")
	v.SetDefault("producer.interval", time.Second)
	v.SetDefault("producer.count", 0)

	v.SetDefault("metrics.addr", "")
}

// Validate checks the settings of the selected broker driver.
func (c *Config) Validate() error {
	switch c.Broker.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	case DriverLmstfy:
		if c.Lmstfy.Host == "" {
			return errors.New("lmstfy.host is required")
		}
		if c.Lmstfy.Namespace == "" {
			return errors.New("lmstfy.namespace is required")
		}
		if c.Lmstfy.Tries < 0 || c.Lmstfy.Tries > 65535 {
			return fmt.Errorf("lmstfy.tries out of range: %d", c.Lmstfy.Tries)
		}
	case DriverHTTP:
		if c.HTTP.URL == "" {
			return errors.New("http.url is required")
		}
	default:
		return fmt.Errorf("unknown broker.driver %q", c.Broker.Driver)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must not be negative: %d", c.Worker.Concurrency)
	}
	return nil
}
