package certstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerate(t *testing.T) {
	cred, err := Generate()
	require.NoError(t, err)
	require.NotEmpty(t, cred.CertPEM)
	require.NotEmpty(t, cred.KeyPEM)

	tlsCert, err := cred.TLSCertificate()
	require.NoError(t, err)
	require.NotEmpty(t, tlsCert.Certificate)
}

func TestProviderPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deceive")
	p := NewProvider(dir, zap.NewNop())

	first, err := p.Load(context.Background())
	require.NoError(t, err)

	second, err := p.Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, first.CertPEM, second.CertPEM)
	require.Equal(t, first.KeyPEM, second.KeyPEM)
}
