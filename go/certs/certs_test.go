package certs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientTLSConfig(t *testing.T) {
	t.Run("empty opts use the system pool and no client certificate", func(t *testing.T) {
		config, err := (&Opts{}).ClientTLSConfig()
		require.NoError(t, err)
		require.Nil(t, config.RootCAs)
		require.Empty(t, config.Certificates)
	})

	t.Run("missing CA file fails", func(t *testing.T) {
		_, err := (&Opts{CAFile: "does-not-exist.pem"}).ClientTLSConfig()
		require.Error(t, err)
	})

	t.Run("invalid CA file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))
		_, err := (&Opts{CAFile: path}).ClientTLSConfig()
		require.ErrorContains(t, err, "certificate pool")
	})

	t.Run("client certificate without key fails", func(t *testing.T) {
		_, err := (&Opts{ClientCertFile: "client.crt"}).ClientTLSConfig()
		require.ErrorContains(t, err, "without a client key")
	})
}

func TestHasClientCertificate(t *testing.T) {
	require.False(t, (&Opts{}).HasClientCertificate())
	require.False(t, (*Opts)(nil).HasClientCertificate())
	require.True(t, (&Opts{ClientCertFile: "client.crt"}).HasClientCertificate())
}
