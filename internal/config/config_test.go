package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.DBName = "jastip"
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 5*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 10*time.Minute, cfg.Queue.BackoffCap)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Order.DownPaymentDeadline)
	assert.Equal(t, 24*time.Hour, cfg.Order.AutoRefundGrace)
	assert.Equal(t, 35*time.Minute, cfg.StockLock.DefaultTTL)
	assert.Equal(t, "jastip", cfg.Metrics.Namespace)
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.DBName = "jastip"
	cfg.Queue.VisibilityTimeout = time.Minute
	cfg.Worker.Concurrency = 20
	cfg.SetDefaults()

	assert.Equal(t, time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 20, cfg.Worker.Concurrency)
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("missing database host", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Host = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.DBName = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("require_direct without a direct host", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.RequireDirect = true
		cfg.Database.DirectHost = ""
		assert.Error(t, cfg.Validate())

		cfg.Database.DirectHost = "10.0.0.5"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid worker settings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Worker.BatchSize = -1
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Worker.Concurrency = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestRequireDirectConn(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.RequireDirectConn())

	cfg.Database.RequireDirect = true
	assert.True(t, cfg.RequireDirectConn())
}
