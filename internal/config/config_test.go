package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("USE_MOCK_DB", "true")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.TelegramToken)
	assert.True(t, cfg.UseMockDB)
	assert.False(t, cfg.WebhookMode)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 300*time.Second, cfg.CredentialTimeout)
	assert.Equal(t, 600*time.Second, cfg.CodeTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
	assert.Empty(t, cfg.AdminUserIDs)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIN_USER_IDS", "1,22,333")
	t.Setenv("MUST_JOIN", "@updates")
	t.Setenv("CODE_TIMEOUT", "15m")
	t.Setenv("WEBHOOK_MODE", "true")
	t.Setenv("WEBHOOK_URL", "https://example.org")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 22, 333}, cfg.AdminUserIDs)
	assert.Equal(t, "@updates", cfg.MustJoin)
	assert.Equal(t, 15*time.Minute, cfg.CodeTimeout)
	assert.True(t, cfg.WebhookMode)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing token", env: map[string]string{"TELEGRAM_BOT_TOKEN": ""}},
		{name: "webhook without url", env: map[string]string{"WEBHOOK_MODE": "true"}},
		{name: "clickhouse without host", env: map[string]string{"USE_MOCK_DB": "false"}},
		{name: "bad admin id", env: map[string]string{"ADMIN_USER_IDS": "1,abc"}},
		{name: "bad duration", env: map[string]string{"CODE_TIMEOUT": "soon"}},
		{name: "zero sweep interval", env: map[string]string{"SWEEP_INTERVAL": "0s"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}
