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

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SECURECALL_SECRET", "cookie-secret")
	cfg, err := Load("missing")
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 30*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, 60*time.Second, cfg.Calls.GroupRingTimeout)
	assert.Equal(t, 300*time.Second, cfg.Calls.KeyRotationInterval)
	assert.Equal(t, 16, cfg.Calls.MaxParticipants)
	assert.Equal(t, time.Hour, cfg.Calls.MaxDuration)
	assert.Equal(t, time.Hour, cfg.TURN.TTL)
	assert.Equal(t, "calls", cfg.NATS.SubjectPrefix)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9000\nsecret: c\nturn:\n  host: turn.example.com\n  secret: s\ncalls:\n  ring_timeout: 10s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	t.Setenv("SECURECALL_CALLS_MAX_PARTICIPANTS", "4")

	cfg, err := Load("test")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "turn.example.com", cfg.TURN.Host)
	assert.Equal(t, 10*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, 4, cfg.Calls.MaxParticipants)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SECURECALL_TURN_HOST", "turn.example.com")
	_, err := Load("missing")
	assert.ErrorContains(t, err, "turn.secret")
}

func TestValidateSecret(t *testing.T) {
	chdirTemp(t)
	_, err := Load("missing")
	assert.ErrorContains(t, err, "secret is required in release mode")

	t.Setenv("SECURECALL_MODE", "debug")
	cfg, err := Load("missing")
	require.NoError(t, err)
	assert.Empty(t, cfg.Secret)
}
