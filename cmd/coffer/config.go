package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/reconciler"
	"github.com/cofferhq/coffer/pkg/security"
)

// Duration wraps time.Duration so config files can use "30s" notation
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the worker process configuration
type Config struct {
	DataDir string `yaml:"dataDir"`
	Listen  string `yaml:"listen"`

	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Log        LogConfig        `yaml:"log"`
}

// RedisConfig points the worker at the keystore and stream backend
type RedisConfig struct {
	Addr     string     `yaml:"addr"`
	Password string     `yaml:"password"`
	DB       int        `yaml:"db"`
	TLS      *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds mutual TLS material for the redis connection
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

// QueueConfig tunes the stream consumers
type QueueConfig struct {
	Workers         int      `yaml:"workers"`
	PollInterval    Duration `yaml:"pollInterval"`
	ReclaimInterval Duration `yaml:"reclaimInterval"`
	ReclaimMinIdle  Duration `yaml:"reclaimMinIdle"`
	MaxDeliveries   int      `yaml:"maxDeliveries"`
}

// ReconcilerConfig tunes the failed-import sweep. A zero interval
// disables the reconciler.
type ReconcilerConfig struct {
	Interval Duration `yaml:"interval"`
}

// LogConfig controls log output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file or flag
// overrides it
func DefaultConfig() Config {
	qcfg := queue.DefaultConfig()

	return Config{
		DataDir: "/var/lib/coffer",
		Listen:  "127.0.0.1:9090",
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Queue: QueueConfig{
			Workers:         qcfg.Workers,
			PollInterval:    Duration(qcfg.PollInterval),
			ReclaimInterval: Duration(qcfg.ReclaimInterval),
			ReclaimMinIdle:  Duration(qcfg.ReclaimMinIdle),
			MaxDeliveries:   qcfg.MaxDeliveries,
		},
		Reconciler: ReconcilerConfig{
			Interval: Duration(reconciler.DefaultInterval),
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	return cfg, nil
}

func (c Config) queueConfig() queue.Config {
	return queue.Config{
		Workers:         c.Queue.Workers,
		PollInterval:    time.Duration(c.Queue.PollInterval),
		ReclaimInterval: time.Duration(c.Queue.ReclaimInterval),
		ReclaimMinIdle:  time.Duration(c.Queue.ReclaimMinIdle),
		MaxDeliveries:   c.Queue.MaxDeliveries,
	}
}

func (c Config) logConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}

// openRedis connects to redis with optional mutual TLS
func openRedis(cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	if cfg.TLS != nil {
		tlsCfg, err := security.ClientTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to configure redis TLS: %v", err)
		}
		opts.TLSConfig = tlsCfg
	}

	return redis.NewClient(opts), nil
}
