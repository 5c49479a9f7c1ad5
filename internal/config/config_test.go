package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, AuditSinkQueue, cfg.AuditSink)
	assert.Equal(t, "ledger", cfg.MongoDBName)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 3*time.Second, cfg.AuditTimeout)
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("AUDIT_SINK", "store")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, AuditSinkStore, cfg.AuditSink)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 5, cfg.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := load(viper.New())
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("STORE_BACKEND", "sqlite")
		_, err := load(viper.New())
		assert.Error(t, err)
	})

	t.Run("unknown audit sink", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("AUDIT_SINK", "kafka")
		_, err := load(viper.New())
		assert.Error(t, err)
	})
}
