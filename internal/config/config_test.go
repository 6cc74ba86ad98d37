package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "weekplan.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestParseFileThenFlags(t *testing.T) {
	p := writeFile(t, `
addr: ":9090"
horizon: "7 D"
auto_cron: "0 7 * * *"
redis_addr: "localhost:6379"
lock_ttl: 45s
log_level: warn
`)
	cfg, err := Parse([]string{"-config", p, "-horizon", "3 D"})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "3 D", cfg.Horizon, "flag beats file")
	assert.Equal(t, "0 7 * * *", cfg.AutoCron)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 45*time.Second, cfg.LockTTL)
	assert.Equal(t, "weekplan.db", cfg.DB, "untouched keys keep defaults")
	assert.Equal(t, zerolog.WarnLevel, cfg.Level())
}

func TestDebugOverridesLevel(t *testing.T) {
	cfg, err := Parse([]string{"-debug", "-log-level", "error"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestValidation(t *testing.T) {
	_, err := Parse([]string{"-horizon", "2 weeks"})
	assert.Error(t, err)

	_, err = Parse([]string{"-otel", "jaeger"})
	assert.Error(t, err)

	_, err = Load(writeFile(t, "log_level: loud\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "addr: [unclosed\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
