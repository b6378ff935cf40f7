// Package config loads service configuration with viper.
//
// Values come from an optional YAML/JSON file, then POWERDASH_* environment
// variables (POWERDASH_STORAGE_DSN overrides storage.dsn), then defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	} `mapstructure:"server"`

	Storage struct {
		Kind         string `mapstructure:"kind"`
		DSN          string `mapstructure:"dsn"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	} `mapstructure:"storage"`

	Ingest struct {
		ParamCeiling int           `mapstructure:"param_ceiling"`
		SampleRows   int           `mapstructure:"sample_rows"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ingest"`

	Query struct {
		MaxRows int `mapstructure:"max_rows"`
	} `mapstructure:"query"`

	Suggest struct {
		MaxPieCardinality int `mapstructure:"max_pie_cardinality"`
		Workers           int `mapstructure:"workers"`
	} `mapstructure:"suggest"`

	Catalog struct {
		Kind   string `mapstructure:"kind"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"catalog"`

	Lock struct {
		Kind string        `mapstructure:"kind"`
		TTL  time.Duration `mapstructure:"ttl"`
	} `mapstructure:"lock"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Metrics struct {
		Backend    string        `mapstructure:"backend"`
		Tags       string        `mapstructure:"tags"`
		FlushEvery time.Duration `mapstructure:"flush_every"`
	} `mapstructure:"metrics"`

	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POWERDASH"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 32<<20)

	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "file:powerdash.db")
	v.SetDefault("storage.max_open_conns", 0)

	v.SetDefault("ingest.param_ceiling", 999)
	v.SetDefault("ingest.sample_rows", 100)
	v.SetDefault("ingest.timeout", 5*time.Minute)

	v.SetDefault("query.max_rows", 1000)

	v.SetDefault("suggest.max_pie_cardinality", 20)
	v.SetDefault("suggest.workers", 4)

	v.SetDefault("catalog.kind", "memory")
	v.SetDefault("catalog.prefix", "powerdash")

	v.SetDefault("lock.kind", "local")
	v.SetDefault("lock.ttl", 10*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

// Load reads path (optional; "" skips the file) and returns a validated
// Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if strings.EqualFold(filepath.Ext(path), ".json") {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Kind == "" {
		errs = append(errs, errors.New("storage.kind is required"))
	}
	if c.Ingest.ParamCeiling < 1 {
		errs = append(errs, fmt.Errorf("ingest.param_ceiling must be >= 1, got %d", c.Ingest.ParamCeiling))
	}
	if c.Query.MaxRows < 1 {
		errs = append(errs, fmt.Errorf("query.max_rows must be >= 1, got %d", c.Query.MaxRows))
	}
	if c.Suggest.Workers < 1 {
		errs = append(errs, fmt.Errorf("suggest.workers must be >= 1, got %d", c.Suggest.Workers))
	}
	switch c.Catalog.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("catalog.kind must be memory or redis, got %q", c.Catalog.Kind))
	}
	switch c.Lock.Kind {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("lock.kind must be local or redis, got %q", c.Lock.Kind))
	}
	switch c.Metrics.Backend {
	case "none", "datadog":
	default:
		errs = append(errs, fmt.Errorf("metrics.backend must be none or datadog, got %q", c.Metrics.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
