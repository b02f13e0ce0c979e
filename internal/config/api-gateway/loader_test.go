package api_gateway_config

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
	assert.Equal(t, TransportNATSEmbedded, cfg.Realtime.Transport)
	assert.Equal(t, time.Second, cfg.Realtime.BaseDelay)
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.Equal(t, EmailOutbox, cfg.Email.Mode)
	assert.Equal(t, "questline.email.requested", cfg.Email.Kafka.Topic)
	assert.Equal(t, uint32(5), cfg.Email.SMTP.BreakerFailures)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Redis.TTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
realtime:
  transport: ws
  ws:
    url: https://rt.example.com/realtime/v1
    api_key: anon
email:
  mode: inline
`), 0o600))
	t.Setenv("REALTIME_MAX_ATTEMPTS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportWS, cfg.Realtime.Transport)
	assert.Equal(t, "anon", cfg.Realtime.WS.APIKey)
	assert.Equal(t, 3, cfg.Realtime.MaxAttempts)
	assert.Equal(t, EmailInline, cfg.Email.Mode)
}

func TestLoad_RejectsUnknownModes(t *testing.T) {
	t.Setenv("REALTIME_TRANSPORT", "carrier-pigeon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime.transport")

	t.Setenv("REALTIME_TRANSPORT", "none")
	t.Setenv("EMAIL_MODE", "fax")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.mode")
}
