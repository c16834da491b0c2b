package configintercept

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// allowedAffinityAlgs covers every signature algorithm the PAS token has
// been observed to use; ParseSigned rejects anything outside this list.
var allowedAffinityAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// decodeAffinityClaim extracts the "affinity" claim from the PAS token's
// payload segment without verifying its signature (spec.md's Non-goals
// exclude cryptographic validation here). go-jose does the structural
// parsing; a manual base64 split is the fallback for tokens whose
// algorithm ParseSigned won't accept.
func decodeAffinityClaim(token string) (string, error) {
	if jws, err := jose.ParseSigned(token, allowedAffinityAlgs); err == nil {
		return affinityFromPayload(jws.UnsafePayloadWithoutVerification())
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("configintercept: malformed affinity token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return "", fmt.Errorf("configintercept: decode affinity payload: %w", err)
		}
	}
	return affinityFromPayload(raw)
}

func affinityFromPayload(raw []byte) (string, error) {
	var payload struct {
		Affinity string `json:"affinity"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("configintercept: parse affinity payload: %w", err)
	}
	if payload.Affinity == "" {
		return "", errors.New("configintercept: no affinity claim in token")
	}
	return payload.Affinity, nil
}
