package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"admin-auth-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevCertGenerator(t *testing.T) {
	dir := t.TempDir()
	g := NewDevCertGenerator(dir)

	cert, err := g.GenerateCert([]string{"admin.local", "127.0.0.1"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "admin.local")
	require.Len(t, leaf.IPAddresses, 1)

	again, err := g.GenerateCert([]string{"admin.local"})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], again.Certificate[0])
}

func TestTLSManager_GetCertificate(t *testing.T) {
	t.Run("development falls back to a cached self-signed pair", func(t *testing.T) {
		m := NewTLSManager(&config.Config{
			Environment: "development",
			Server:      config.ServerConfig{Domain: "localhost", AutoCertDir: t.TempDir()},
		})
		a, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
		require.NoError(t, err)
		b, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("production refuses to self-sign", func(t *testing.T) {
		m := NewTLSManager(&config.Config{
			Environment: "production",
			Server:      config.ServerConfig{Domain: "admin.example.com", AutoCertDir: t.TempDir()},
		})
		_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "admin.example.com"})
		assert.Error(t, err)
	})

	assert.Equal(t, uint16(tls.VersionTLS12), NewTLSManager(&config.Config{}).GetTLSConfig().MinVersion)
}
