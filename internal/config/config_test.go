package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "collabd.db", cfg.DBPath)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("COLLABD_LISTEN_ADDR", ":9090")
	t.Setenv("COLLABD_LOG_LEVEL", "debug")
	t.Setenv("COLLABD_DB_PATH", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":memory:", cfg.DBPath)
}

func TestTLSEnabled(t *testing.T) {
	cfg := &Config{TLSCert: "cert.pem"}
	assert.False(t, cfg.TLSEnabled(), "both cert and key are required")

	cfg.TLSKey = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestCORSOriginList(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.CORSOriginList())

	cfg.CORSOrigins = "https://a.example, https://b.example ,"
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
}
