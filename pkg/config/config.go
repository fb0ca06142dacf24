package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Stage names accepted in pipeline.stages.
const (
	StageFactors = "factors"
	StageScale   = "scale"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout" validate:"required"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`

	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		CORS            bool          `yaml:"cors"`
		// per client address
		RateLimit struct {
			RPS   float64 `yaml:"rps" default:"20" validate:"gte=0"`
			Burst int     `yaml:"burst" default:"40" validate:"min=1"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Storage struct {
		Backend string `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse postgres memory"`
	} `yaml:"storage"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finfactor"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns" default:"10" validate:"min=1"`
	} `yaml:"postgres"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		ScaledTopic  string   `yaml:"scaled_topic" default:"factors.scaled"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"finfactor"`
		TTL      time.Duration `yaml:"ttl" default:"6h"`
	} `yaml:"redis"`

	Calendar struct {
		ExtraHolidays []string `yaml:"extra_holidays" validate:"dive,datetime=2006-01-02"`
	} `yaml:"calendar"`

	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline configures the factor and scaling stages.
type Pipeline struct {
	Stages          []string `yaml:"stages" default:"[\"factors\",\"scale\"]" validate:"min=1,dive,oneof=factors scale"`
	Workers         int      `yaml:"workers" default:"6" validate:"min=1,max=256"`
	StartDate       string   `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string   `yaml:"end_date" validate:"required,datetime=2006-01-02"`
	Clean           bool     `yaml:"clean"`
	PointInTime     string   `yaml:"point_in_time" default:"effective" validate:"oneof=effective filed"`
	OutlierA        float64  `yaml:"outlier_a" default:"3" validate:"gt=0"`
	MinCrossSection int      `yaml:"min_cross_section" default:"5" validate:"min=2"`
	Horizons        struct {
		Return int `yaml:"return" default:"1" validate:"min=1"`
		Short  int `yaml:"short" default:"20" validate:"min=1"`
		Long   int `yaml:"long" default:"260" validate:"min=1"`
	} `yaml:"horizons"`
	FillLimit int `yaml:"fill_limit" default:"5" validate:"min=0"`
	Retry     struct {
		Attempts int           `yaml:"attempts" default:"3" validate:"min=1"`
		Backoff  time.Duration `yaml:"backoff" default:"200ms"`
	} `yaml:"retry"`
	// Guard throttles storage calls and trips a breaker after repeated failures.
	Guard struct {
		RPS             float64       `yaml:"rps" default:"200" validate:"gt=0"`
		Burst           int           `yaml:"burst" default:"20" validate:"min=1"`
		BreakerFailures uint32        `yaml:"breaker_failures" default:"5" validate:"min=1"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"30s"`
	} `yaml:"guard"`
	Digest struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"pipeline.digest"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100" validate:"min=1"`
	} `yaml:"digest"`
}

// HasStage reports whether the named stage is enabled.
func (p Pipeline) HasStage(name string) bool {
	for _, s := range p.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// Window returns the parsed [start, end] trading window.
func (p Pipeline) Window() (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("pipeline.start_date: %w", err)
	}
	to, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("pipeline.end_date: %w", err)
	}
	return from, to, nil
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Defaults are applied
// before the file so that absent keys keep their default value.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment
// variables and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("PIPELINE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_WORKERS: %w", err)
		}
		c.Pipeline.Workers = n
	}
	return nil
}

// Validate checks struct tags and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	from, to, err := c.Pipeline.Window()
	if err != nil {
		return err
	}
	if to.Before(from) {
		return fmt.Errorf("pipeline.end_date %s is before start_date %s", c.Pipeline.EndDate, c.Pipeline.StartDate)
	}
	h := c.Pipeline.Horizons
	if h.Long <= h.Short {
		return fmt.Errorf("pipeline.horizons.long (%d) must exceed short (%d)", h.Long, h.Short)
	}

	switch c.Storage.Backend {
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return errors.New("clickhouse.host is required for the clickhouse backend")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Pipeline.Digest.Enabled && !c.Kafka.Enabled {
		return errors.New("pipeline.digest requires kafka to be enabled")
	}
	return nil
}
