package client

import (
	"os"
	"path/filepath"
	"testing"

	"admin-auth-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickhouseAddr(t *testing.T) {
	tests := []struct {
		in     string
		addr   string
		secure bool
	}{
		{"http://localhost:9000", "localhost:9000", false},
		{"localhost:9000", "localhost:9000", false},
		{"clickhouse.internal", "clickhouse.internal:9000", false},
		{"https://ch.example.com", "ch.example.com:9440", true},
		{"tcp://ch.example.com?secure=true", "ch.example.com:9440", true},
	}
	for _, tt := range tests {
		addr, secure, err := clickhouseAddr(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.addr, addr, tt.in)
		assert.Equal(t, tt.secure, secure, tt.in)
	}

	_, _, err := clickhouseAddr("")
	assert.Error(t, err)
}

func TestClickhouseOptions(t *testing.T) {
	chConfig := &config.ClickhouseConfig{URL: "http://localhost:9000", Username: "default", Database: "audit", Table: "admin_audit_log"}

	t.Run("should keep a small pool for the audit writer", func(t *testing.T) {
		opts, err := clickhouseOptions(chConfig, false)
		require.NoError(t, err)
		assert.Equal(t, clickhouseMaxOpenConns, opts.MaxOpenConns)
		assert.LessOrEqual(t, opts.MaxIdleConns, opts.MaxOpenConns)
		assert.Nil(t, opts.TLS)
	})

	t.Run("should require TLS in production", func(t *testing.T) {
		opts, err := clickhouseOptions(chConfig, true)
		require.NoError(t, err)
		require.NotNil(t, opts.TLS)
		assert.Equal(t, "localhost", opts.TLS.ServerName)
	})

	t.Run("should reject an unreadable CA bundle", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
		withCA := *chConfig
		withCA.CAFile = path
		_, err := clickhouseOptions(&withCA, true)
		assert.ErrorContains(t, err, "no certificates")
	})
}
