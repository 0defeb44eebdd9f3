package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dbconfig "tutorlink/pkg/database"
)

const envPrefix = "TUTORLINK_"

// Config is the process-wide settings tree.
type Config struct {
	Env       string           `json:"env" yaml:"env"`
	Database  *DatabaseConfig  `json:"database" yaml:"database"`
	HTTP      *HTTPConfig      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfig `json:"websocket" yaml:"websocket"`
	Billing   *BillingConfig   `json:"billing" yaml:"billing"`
	Redis     *RedisConfig     `json:"redis" yaml:"redis"`
	AMQP      *AMQPConfig      `json:"amqp" yaml:"amqp"`
	Log       *LogConfig       `json:"log" yaml:"log"`
	RateLimit *RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

type DatabaseConfig struct {
	Driver  string        `json:"driver" yaml:"driver"`
	Path    string        `json:"path" yaml:"path"`
	DSN     string        `json:"dsn" yaml:"dsn"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	Host         string        `json:"host" yaml:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int           `json:"buffer_size" yaml:"buffer_size"`
}

// BillingConfig sets the metered timer: one UnitCost debit per Interval,
// of which PayeeShare is credited to the host.
type BillingConfig struct {
	Interval   time.Duration `json:"interval" yaml:"interval"`
	UnitCost   float64       `json:"unit_cost" yaml:"unit_cost"`
	PayeeShare float64       `json:"payee_share" yaml:"payee_share"`
}

// RedisConfig enables the cross-instance billing lease. Empty Addr keeps
// leases in process memory.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	LeaseTTL time.Duration `json:"lease_ttl" yaml:"lease_ttl"`
}

// AMQPConfig enables publishing notifications to RabbitMQ. Empty URL
// disables publishing.
type AMQPConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute" yaml:"messages_per_minute"`
}

func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Database: &DatabaseConfig{
			Driver:  dbconfig.DriverSQLite,
			Path:    "./tutorlink.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Billing: &BillingConfig{
			Interval:   60 * time.Second,
			UnitCost:   1,
			PayeeShare: 0.75,
		},
		Redis: &RedisConfig{
			LeaseTTL: 3 * time.Minute,
		},
		AMQP: &AMQPConfig{
			Exchange: "tutorlink.events",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: &RateLimitConfig{
			MessagesPerMinute: 100,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	switch c.Database.Driver {
	case dbconfig.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case dbconfig.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Billing == nil {
		return fmt.Errorf("billing configuration is required")
	}
	if c.Billing.Interval <= 0 {
		return fmt.Errorf("billing interval must be positive")
	}
	if c.Billing.UnitCost <= 0 {
		return fmt.Errorf("billing unit cost must be positive")
	}
	if c.Billing.PayeeShare < 0 || c.Billing.PayeeShare > 1 {
		return fmt.Errorf("billing payee share must be between 0 and 1")
	}

	if c.Redis == nil || c.AMQP == nil || c.Log == nil || c.RateLimit == nil {
		return fmt.Errorf("redis, amqp, log and rate_limit sections are required")
	}
	if c.Redis.Addr != "" && c.Redis.LeaseTTL <= c.Billing.Interval {
		return fmt.Errorf("redis lease ttl must exceed the billing interval")
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		return fmt.Errorf("amqp exchange cannot be empty when a url is set")
	}
	if c.RateLimit.MessagesPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console")
	}
	return nil
}

// Store converts the database section into the store's own config.
func (c *Config) Store() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = c.Database.Driver
	cfg.DatabasePath = c.Database.Path
	cfg.DSN = c.Database.DSN
	if c.Env == "production" {
		cfg.LogLevel = "error"
	}
	return cfg
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv overlays TUTORLINK_* environment variables onto defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("ENV", &config.Env)

	str("DATABASE_DRIVER", &config.Database.Driver)
	str("DATABASE_PATH", &config.Database.Path)
	str("DATABASE_DSN", &config.Database.DSN)
	dur("DATABASE_TIMEOUT", &config.Database.Timeout)

	num("HTTP_PORT", &config.HTTP.Port)
	str("HTTP_HOST", &config.HTTP.Host)
	dur("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	dur("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	dur("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	dur("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	num("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	dur("BILLING_INTERVAL", &config.Billing.Interval)
	float("BILLING_UNIT_COST", &config.Billing.UnitCost)
	float("BILLING_PAYEE_SHARE", &config.Billing.PayeeShare)

	str("REDIS_ADDR", &config.Redis.Addr)
	str("REDIS_PASSWORD", &config.Redis.Password)
	num("REDIS_DB", &config.Redis.DB)
	dur("REDIS_LEASE_TTL", &config.Redis.LeaseTTL)

	str("AMQP_URL", &config.AMQP.URL)
	str("AMQP_EXCHANGE", &config.AMQP.Exchange)

	str("LOG_LEVEL", &config.Log.Level)
	str("LOG_FORMAT", &config.Log.Format)

	num("RATE_LIMIT_MESSAGES_PER_MINUTE", &config.RateLimit.MessagesPerMinute)
}

// ConfigFile is the on-disk shape. Durations are strings ("30s") in both
// JSON and YAML; zero values leave the underlying setting untouched.
type ConfigFile struct {
	Env       string               `json:"env" yaml:"env"`
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Billing   *BillingConfigFile   `json:"billing" yaml:"billing"`
	Redis     *RedisConfigFile     `json:"redis" yaml:"redis"`
	AMQP      *AMQPConfig          `json:"amqp" yaml:"amqp"`
	Log       *LogConfig           `json:"log" yaml:"log"`
	RateLimit *RateLimitConfig     `json:"rate_limit" yaml:"rate_limit"`
}

type DatabaseConfigFile struct {
	Driver  string `json:"driver" yaml:"driver"`
	Path    string `json:"path" yaml:"path"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
}

type BillingConfigFile struct {
	Interval   string  `json:"interval" yaml:"interval"`
	UnitCost   float64 `json:"unit_cost" yaml:"unit_cost"`
	PayeeShare float64 `json:"payee_share" yaml:"payee_share"`
}

type RedisConfigFile struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	LeaseTTL string `json:"lease_ttl" yaml:"lease_ttl"`
}

// LoadFromFile reads a JSON or YAML file (by extension) over defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cf)
	default:
		err = json.Unmarshal(data, &cf)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var bad []string
	dur := func(field, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			bad = append(bad, field)
			return
		}
		*dst = d
	}
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}

	str(cf.Env, &config.Env)
	if f := cf.Database; f != nil {
		str(f.Driver, &config.Database.Driver)
		str(f.Path, &config.Database.Path)
		str(f.DSN, &config.Database.DSN)
		dur("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := cf.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		str(f.Host, &config.HTTP.Host)
		dur("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		dur("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if f := cf.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		dur("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		dur("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		dur("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if f := cf.Billing; f != nil {
		dur("billing.interval", f.Interval, &config.Billing.Interval)
		if f.UnitCost > 0 {
			config.Billing.UnitCost = f.UnitCost
		}
		if f.PayeeShare > 0 {
			config.Billing.PayeeShare = f.PayeeShare
		}
	}
	if f := cf.Redis; f != nil {
		str(f.Addr, &config.Redis.Addr)
		str(f.Password, &config.Redis.Password)
		if f.DB > 0 {
			config.Redis.DB = f.DB
		}
		dur("redis.lease_ttl", f.LeaseTTL, &config.Redis.LeaseTTL)
	}
	if f := cf.AMQP; f != nil {
		str(f.URL, &config.AMQP.URL)
		str(f.Exchange, &config.AMQP.Exchange)
	}
	if f := cf.Log; f != nil {
		str(f.Level, &config.Log.Level)
		str(f.Format, &config.Log.Format)
	}
	if f := cf.RateLimit; f != nil && f.MessagesPerMinute > 0 {
		config.RateLimit.MessagesPerMinute = f.MessagesPerMinute
	}

	if len(bad) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", path, strings.Join(bad, ", "))
	}
	return nil
}

// LoadConfigWithPrecedence resolves defaults < .env/environment < file.
// A file that cannot be read or parsed is reported; the caller decides
// whether to continue with the environment-derived config.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return config, err
		}
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}
