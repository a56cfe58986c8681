package tlsutil

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_GeneratesOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "bridge.crt")
	keyFile := filepath.Join(dir, "tls", "bridge.key")

	cfg, err := ServerConfig(certFile, keyFile)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	first, err := os.ReadFile(certFile)
	require.NoError(t, err)
	_, err = ServerConfig(certFile, keyFile)
	require.NoError(t, err)
	second, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing certificate must be reused")

	block, _ := pem.Decode(first)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "localhost")
	assert.Equal(t, []string{Organization}, cert.Subject.Organization)
	assert.True(t, cert.NotAfter.After(time.Now().Add(300*24*time.Hour)))
}

func TestServerConfig_BadKeyPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certFile := filepath.Join(dir, "c.crt")
	keyFile := filepath.Join(dir, "c.key")
	require.NoError(t, os.WriteFile(certFile, []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(keyFile, []byte("junk"), 0600))

	_, err := ServerConfig(certFile, keyFile)
	require.ErrorContains(t, err, "loading TLS key pair")
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()

	for host, want := range map[string]bool{
		"localhost":   true,
		"LOCALHOST":   true,
		"127.0.0.1":   true,
		"127.0.0.2":   true,
		"::1":         true,
		"10.0.0.1":    false,
		"example.com": false,
	} {
		assert.Equal(t, want, IsLoopback(host), host)
	}
}

func TestNewHTTPClient_AcceptsSelfSignedLoopback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(5 * time.Second).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
