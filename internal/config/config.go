package config

import (
	"fmt"
	"time"
)

// Config represents the global configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	StockLock    StockLockConfig    `mapstructure:"stock_lock"`
	Order        OrderConfig        `mapstructure:"order"`
	Notification NotificationConfig `mapstructure:"notification"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// DirectHost/DirectPort point straight at the database process.
	// The queue's lease semantics depend on a stable session, so the
	// worker refuses to run through a transaction-level pooler.
	DirectHost    string `mapstructure:"direct_host"`
	DirectPort    int    `mapstructure:"direct_port"`
	RequireDirect bool   `mapstructure:"require_direct"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig represents durable queue configuration
type QueueConfig struct {
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
}

// WorkerConfig represents worker loop configuration
type WorkerConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HealthPort      int           `mapstructure:"health_port"`
}

// StockLockConfig represents stock reservation configuration
type StockLockConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	SyncInterval    time.Duration `mapstructure:"sync_interval"`
}

// OrderConfig represents order lifecycle configuration
type OrderConfig struct {
	// DownPaymentDeadline time the buyer has to complete the DP
	DownPaymentDeadline time.Duration `mapstructure:"down_payment_deadline"`
	// AutoRefundGrace how long an order may sit awaiting validation
	AutoRefundGrace time.Duration `mapstructure:"auto_refund_grace"`
	// AutoRefundScanInterval how often stale orders are scanned
	AutoRefundScanInterval time.Duration `mapstructure:"auto_refund_scan_interval"`
}

// NotificationConfig represents outbound messaging configuration
type NotificationConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// SetDefaults fills in defaults for unset values
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Queue.DefaultMaxRetries == 0 {
		c.Queue.DefaultMaxRetries = 3
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 30 * time.Second
	}
	if c.Queue.BackoffBase == 0 {
		c.Queue.BackoffBase = 5 * time.Second
	}
	if c.Queue.BackoffCap == 0 {
		c.Queue.BackoffCap = 10 * time.Minute
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 10
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 5
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 100 * time.Millisecond
	}
	if c.Worker.HandlerTimeout == 0 {
		c.Worker.HandlerTimeout = 25 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.HealthPort == 0 {
		c.Worker.HealthPort = 8081
	}
	if c.StockLock.DefaultTTL == 0 {
		c.StockLock.DefaultTTL = 35 * time.Minute
	}
	if c.StockLock.CleanupInterval == 0 {
		c.StockLock.CleanupInterval = 10 * time.Minute
	}
	if c.StockLock.SyncInterval == 0 {
		c.StockLock.SyncInterval = 15 * time.Minute
	}
	if c.Order.DownPaymentDeadline == 0 {
		c.Order.DownPaymentDeadline = 30 * time.Minute
	}
	if c.Order.AutoRefundGrace == 0 {
		c.Order.AutoRefundGrace = 24 * time.Hour
	}
	if c.Order.AutoRefundScanInterval == 0 {
		c.Order.AutoRefundScanInterval = time.Hour
	}
	if c.Notification.Timeout == 0 {
		c.Notification.Timeout = 10 * time.Second
	}
	if c.Notification.RatePerSec == 0 {
		c.Notification.RatePerSec = 10
	}
	if c.Notification.Burst == 0 {
		c.Notification.Burst = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "jastip"
	}
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.RequireDirectConn() && c.Database.DirectHost == "" {
		return fmt.Errorf("direct database host is required when require_direct is set")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("worker batch size must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("default max retries must not be negative")
	}
	return nil
}

// RequireDirectConn reports whether the queue must run on a direct connection
func (c *Config) RequireDirectConn() bool {
	return c.Database.RequireDirect
}
