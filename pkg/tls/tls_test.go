package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generate(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, GenerateSelfSigned(certFile, keyFile, "worker.local", time.Hour, "10.0.0.5", "gpu-1"))
	return certFile, keyFile
}

func TestGenerateSelfSigned(t *testing.T) {
	certFile, keyFile := generate(t)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)

	assert.Equal(t, "worker.local", leaf.Subject.CommonName)
	assert.ElementsMatch(t, []string{"localhost", "worker.local", "gpu-1"}, leaf.DNSNames)
	assert.NoError(t, leaf.VerifyHostname("10.0.0.5"))
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile := generate(t)

	cfg, err := LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	mtls, err := LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, mtls.ClientAuth)
	assert.NotNil(t, mtls.ClientCAs)
}

func TestLoadServerConfigErrors(t *testing.T) {
	certFile, keyFile := generate(t)

	_, err := LoadServerConfig(ServerConfig{CertFile: certFile})
	assert.Error(t, err)

	_, err = LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: keyFile})
	assert.Error(t, err)

	assert.False(t, ServerConfig{}.Enabled())
	assert.True(t, ServerConfig{CertFile: certFile}.Enabled())
}

func TestServeWithGeneratedCert(t *testing.T) {
	certFile, keyFile := generate(t)
	cfg, err := LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.TLS = cfg
	srv.StartTLS()
	defer srv.Close()

	pem, err := os.ReadFile(certFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
