package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "exchange:orders", cfg.Queue.Redis.Key)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "exchange-fees", cfg.Exchange.FeeAccount)
	assert.Equal(t, 24*time.Hour, cfg.Exchange.StatsWindow)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.True(t, cfg.Metrics.Enabled)

	base, quote, err := cfg.Auth.StartingBalances()
	require.NoError(t, err)
	assert.Equal(t, "100", base.String())
	assert.Equal(t, "100000", quote.String())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
database:
  driver: memory
queue:
  driver: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: orders
exchange:
  stats_window: 1h
`), 0o600))
	t.Setenv("EXCHANGE_AUTH_SECRET", "from-env")
	t.Setenv("EXCHANGE_SERVER_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Queue.Kafka.Brokers)
	assert.Equal(t, "orders", cfg.Queue.Kafka.Topic)
	assert.Equal(t, time.Hour, cfg.Exchange.StatsWindow)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown database driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Database.URL = "" }},
		{"unknown queue driver", func(c *Config) { c.Queue.Driver = "nats" }},
		{"redis without addr", func(c *Config) { c.Queue.Driver = "redis"; c.Queue.Redis.Addr = "" }},
		{"kafka without topic", func(c *Config) { c.Queue.Driver = "kafka"; c.Queue.Kafka.Topic = "" }},
		{"empty secret", func(c *Config) { c.Auth.Secret = "" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"negative start balance", func(c *Config) { c.Auth.StartQuote = "-1" }},
		{"bad start balance", func(c *Config) { c.Auth.StartBase = "lots" }},
		{"no fee account", func(c *Config) { c.Exchange.FeeAccount = "" }},
		{"zero stats window", func(c *Config) { c.Exchange.StatsWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
