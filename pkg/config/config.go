package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xutil "PCRPull/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		WriteBurst      int           `yaml:"write_burst" default:"20" validate:"gte=0"`
		WriteRefill     float64       `yaml:"write_refill_per_sec" default:"10" validate:"gte=0"`
	} `yaml:"server"`
	Store struct {
		Path           string `yaml:"path" default:"data/pcr_history.json" validate:"required"`
		BackupPath     string `yaml:"backup_path"`
		RetentionHours int    `yaml:"retention_hours" default:"24" validate:"gte=1"`
	} `yaml:"store"`
	Market struct {
		Timezone string   `yaml:"timezone" default:"Asia/Kolkata" validate:"required"`
		Open     string   `yaml:"open" default:"09:15" validate:"required"`
		Close    string   `yaml:"close" default:"15:30" validate:"required"`
		Holidays []string `yaml:"holidays"`
	} `yaml:"market"`
	Aggregator struct {
		DefaultWindows []int         `yaml:"default_windows" validate:"dive,gte=1"`
		CacheTTL       time.Duration `yaml:"cache_ttl" default:"15s"`
	} `yaml:"aggregator"`
	Kafka struct {
		Enabled     bool          `yaml:"enabled"`
		Brokers     []string      `yaml:"brokers"`
		Topic       string        `yaml:"topic" default:"pcr.snapshots"`
		GroupID     string        `yaml:"group_id" default:"pcrpull"`
		Workers     int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryMax    int           `yaml:"retry_max" default:"3" validate:"gte=0"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic    string        `yaml:"dlq_topic"`
		EventsTopic string        `yaml:"events_topic"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pcrpull"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
// Missing fields fall back to struct defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is honoured when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
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

func (c *Config) applyEnv() error {
	if v := os.Getenv("PCR_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PCR_RETENTION_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PCR_RETENTION_HOURS: %w", err)
		}
		c.Store.RetentionHours = n
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = xutil.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	if _, err := ParseClock(c.Market.Open); err != nil {
		return fmt.Errorf("market.open: %w", err)
	}
	if _, err := ParseClock(c.Market.Close); err != nil {
		return fmt.Errorf("market.close: %w", err)
	}
	for _, d := range c.Market.Holidays {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("market.holidays: %q: %w", d, err)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// BackupPath returns the configured backup path or "<path>.backup".
func (c *Config) BackupPath() string {
	if c.Store.BackupPath != "" {
		return c.Store.BackupPath
	}
	return c.Store.Path + ".backup"
}

// Retention returns the retention horizon as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionHours) * time.Hour
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
