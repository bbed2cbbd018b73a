package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3002, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 2, cfg.Heartbeat.MaxMissed)
	assert.Equal(t, time.Minute, cfg.Billing.TickPeriod)
	assert.Equal(t, "0.15", cfg.Billing.SessionFee)
	assert.Equal(t, "0.10", cfg.Billing.GiftFee)
	assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, 30*time.Minute, cfg.Sweeper.StaleAfter)
	assert.Equal(t, 2*time.Hour, cfg.Sweeper.MaxSessionAge)
	assert.Equal(t, 50, cfg.RateLimit)
	assert.Equal(t, time.Second, cfg.RateInterval)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9000\nheartbeat:\n  interval: 10s\nbilling:\n  tick_period: 2m\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("LIVEROOM_POSTGRES_DSN", "postgres://u:p@localhost/db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Billing.TickPeriod)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Postgres.DSN)
}
