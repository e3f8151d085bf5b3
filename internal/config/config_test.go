package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// unset clears key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "ALLOWED_ORIGINS", "CARD_VALUES", "OUTBOX_SIZE", "DATABASE_URL", "SESSION_IDLE_TIMEOUT", "LOG_LEVEL"} {
		unset(t, k)
	}

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 32, cfg.OutboxSize)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Empty(t, cfg.DatabaseURL)

	deck, err := cfg.Deck()
	require.NoError(t, err)
	assert.True(t, deck.Contains("13"))
	assert.True(t, deck.Contains("?"))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CARD_VALUES", "S, M ,L")
	t.Setenv("PING_INTERVAL", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.PingInterval)

	deck, err := cfg.Deck()
	require.NoError(t, err)
	assert.Equal(t, []string{"S", "M", "L"}, deck.Cards())
}

func TestLoadEnvFile(t *testing.T) {
	unset(t, "SESSION_IDLE_TIMEOUT")
	t.Setenv("OUTBOX_SIZE", "7")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SESSION_IDLE_TIMEOUT=5m\nOUTBOX_SIZE=99\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 7, cfg.OutboxSize, "environment wins over the file")
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("WRITE_TIMEOUT", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	t.Setenv("OUTBOX_SIZE", "0")
	t.Setenv("WRITE_TIMEOUT", "-1s")
	t.Setenv("CARD_VALUES", " , ")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
	for _, want := range []string{"OUTBOX_SIZE", "WRITE_TIMEOUT", "CARD_VALUES", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_OutboxSize(t *testing.T) {
	cases := []struct {
		size int
		ok   bool
	}{
		{0, false},
		{1, false},
		{2, true},
		{32, true},
	}
	for _, tc := range cases {
		t.Setenv("OUTBOX_SIZE", strconv.Itoa(tc.size))
		_, err := Load("")
		if tc.ok {
			assert.NoError(t, err, "OUTBOX_SIZE=%d", tc.size)
		} else {
			assert.ErrorContains(t, err, "OUTBOX_SIZE", "OUTBOX_SIZE=%d", tc.size)
		}
	}
}

func TestLogger(t *testing.T) {
	cfg := Config{LogLevel: "debug", LogDev: true}
	log, err := cfg.Logger()
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	cfg.LogLevel = "warn"
	cfg.LogDev = false
	log, err = cfg.Logger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
}
