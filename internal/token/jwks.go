package token

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySet returns the verification key as a JSON Web Key Set, the standard
// discovery format for external verifiers of identity tokens.
func (s *Service) KeySet() ([]byte, error) {
	key, err := jwk.FromRaw(&s.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK from public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, s.keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}

	out, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key set: %w", err)
	}
	return out, nil
}
