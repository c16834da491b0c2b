package configintercept

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func signedAffinityToken(t *testing.T, affinity string) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("test-key-material-padded-to-32-b")}, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]string{"affinity": affinity})
	require.NoError(t, err)

	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	compact, err := sig.CompactSerialize()
	require.NoError(t, err)
	return compact
}

func unsignedAffinityToken(t *testing.T, affinity string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload, err := json.Marshal(map[string]string{"affinity": affinity})
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestDecodeAffinityClaimFromSignedToken(t *testing.T) {
	token := signedAffinityToken(t, "eu1")
	affinity, err := decodeAffinityClaim(token)
	require.NoError(t, err)
	require.Equal(t, "eu1", affinity)
}

func TestDecodeAffinityClaimFallsBackToManualSplit(t *testing.T) {
	token := unsignedAffinityToken(t, "na1")
	affinity, err := decodeAffinityClaim(token)
	require.NoError(t, err)
	require.Equal(t, "na1", affinity)
}

func TestDecodeAffinityClaimRejectsMalformedToken(t *testing.T) {
	_, err := decodeAffinityClaim("not-a-jwt")
	require.Error(t, err)
}

func TestDecodeAffinityClaimRejectsMissingClaim(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	_, err := decodeAffinityClaim(header + "." + payload + ".")
	require.Error(t, err)
}
