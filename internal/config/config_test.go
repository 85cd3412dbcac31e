package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("X_BEARER_TOKEN", "token")
	t.Setenv("TG_BOT_TOKEN", "bot")
	t.Setenv("TG_CHAT_ID", "42")
	t.Setenv("TARGET_USERNAME", "jack")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"jack"}, cfg.Targets())
	assert.Equal(t, 300*time.Second, cfg.Interval())
	assert.Equal(t, "https://api.x.com/2", cfg.X.BaseURL)
	assert.Equal(t, 1000, cfg.X.PageSize)
	assert.Equal(t, 900*time.Second, cfg.X.RateLimitCooldown)
	assert.Equal(t, 20*time.Second, cfg.X.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Empty(t, cfg.Bus.Driver)
	assert.Empty(t, cfg.Archive.Driver)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "60")
	t.Setenv("TARGET_USERNAME", "@jack, elonmusk ,")
	t.Setenv("X_RATE_LIMIT_COOLDOWN", "1m")
	t.Setenv("BUS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"jack", "elonmusk"}, cfg.Targets())
	assert.Equal(t, time.Minute, cfg.Interval())
	assert.Equal(t, time.Minute, cfg.X.RateLimitCooldown)
	assert.Equal(t, "localhost:9092", cfg.Bus.Kafka.Brokers)
}

func TestLoadMissingRequired(t *testing.T) {
	cases := map[string]string{
		"X_BEARER_TOKEN":  "",
		"TARGET_USERNAME": " , ",
		"TG_CHAT_ID":      "",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			setRequired(t)
			t.Setenv(env, value)

			_, err := Load()
			require.Error(t, err)

			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, env, cfgErr.Field)
			assert.True(t, domain.IsFatal(err))
		})
	}
}

func TestTelegramOptional(t *testing.T) {
	setRequired(t)
	t.Setenv("TG_ENABLED", "false")
	t.Setenv("TG_BOT_TOKEN", "")
	t.Setenv("TG_CHAT_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			X:            XConfig{BearerToken: "t", PageSize: 1000, RateLimitCooldown: time.Minute, MaxAttempts: 1},
			Target:       "jack",
			PollInterval: 300,
		}
	}
	c := base()
	require.NoError(t, c.Validate())

	c = base()
	c.PollInterval = 0
	assert.Error(t, c.Validate())

	c = base()
	c.X.PageSize = 5000
	assert.Error(t, c.Validate())

	c = base()
	c.Bus.Driver = "nats"
	assert.Error(t, c.Validate())

	c = base()
	c.Archive.Driver = "s3"
	assert.Error(t, c.Validate())
}
