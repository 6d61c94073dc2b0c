package certs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/certs"
)

func TestEnsureServerCert_GeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()

	bundle, err := certs.EnsureServerCert(dir, []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, bundle)
	require.FileExists(t, filepath.Join(dir, "server.crt"))
	require.FileExists(t, filepath.Join(dir, "server.key"))

	// A second call must load the same files rather than regenerating.
	again, err := certs.EnsureServerCert(dir, []string{"localhost"})
	require.NoError(t, err)
	require.Equal(t, bundle.Cert.Certificate, again.Cert.Certificate)
}

func TestServerTLSConfig_SetsMinVersion(t *testing.T) {
	dir := t.TempDir()
	bundle, err := certs.EnsureServerCert(dir, []string{"localhost"})
	require.NoError(t, err)

	cfg := certs.ServerTLSConfig(bundle)
	require.Len(t, cfg.Certificates, 1)
	require.EqualValues(t, 0x0303, cfg.MinVersion) // TLS 1.2
}
