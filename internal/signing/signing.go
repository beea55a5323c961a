// Package signing selects token signing keys and mints and verifies JWTs.
//
// With asymmetric signing disabled every token is HS256 over the shared
// secret. With it enabled the active SigningKey signs, and its kid is put
// in the header when IncludeJWTKid is set. Missing or unusable key
// material fails the request rather than falling back to the secret.
package signing

import (
	"crypto"
	"fmt"
	"strings"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Signer mints JWTs with one key.
type Signer struct {
	Method jwt.SigningMethod
	Key    any
	Kid    string
}

// Select picks the signer for new tokens. Access and refresh tokens use the
// same selection.
func Select(cfg models.SigningConfig, keys []models.SigningKey, activeKid string, secret []byte) (Signer, error) {
	if !cfg.AsymKeySigning {
		return Signer{Method: jwt.SigningMethodHS256, Key: secret}, nil
	}

	key, ok := findKey(keys, activeKid)
	if !ok {
		return Signer{}, simerrors.ErrNoActiveKey
	}

	method, err := methodFor(key.Alg)
	if err != nil {
		return Signer{}, err
	}

	priv, err := parsePrivate(key)
	if err != nil {
		return Signer{}, err
	}

	s := Signer{Method: method, Key: priv}
	if cfg.IncludeJWTKid {
		s.Kid = key.Kid
	}

	return s, nil
}

// Sign mints a JWT carrying claims.
func (s Signer) Sign(claims map[string]any) (string, error) {
	tok := jwt.NewWithClaims(s.Method, jwt.MapClaims(claims))
	if s.Kid != "" {
		tok.Header["kid"] = s.Kid
	}

	signed, err := tok.SignedString(s.Key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Verifier checks JWT signatures with one key.
type Verifier struct {
	Alg string
	Key any
}

// SelectVerifier picks the key used to verify tokens. With asymmetric
// signing on and an active key whose public PEM parses, that key is used.
// Otherwise tokens are verified with HS256 over the secret.
func SelectVerifier(cfg models.SigningConfig, keys []models.SigningKey, activeKid string, secret []byte) Verifier {
	if cfg.AsymKeySigning {
		if key, ok := findKey(keys, activeKid); ok {
			if _, err := methodFor(key.Alg); err == nil {
				if pub, err := parsePublic(key); err == nil {
					return Verifier{Alg: key.Alg, Key: pub}
				}
			}
		}
	}

	return Verifier{Alg: jwt.SigningMethodHS256.Alg(), Key: secret}
}

// Verify checks the signature and expiry of token and returns its claims.
func (v Verifier) Verify(token string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.Alg}),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.Key, nil
	}); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	return claims, nil
}

func findKey(keys []models.SigningKey, kid string) (models.SigningKey, bool) {
	if kid == "" {
		return models.SigningKey{}, false
	}

	for _, k := range keys {
		if k.Kid == kid {
			return k, true
		}
	}

	return models.SigningKey{}, false
}

func methodFor(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "RS256", "RS384", "RS512", "ES256", "ES384", "ES512":
		return jwt.GetSigningMethod(alg), nil
	default:
		return nil, fmt.Errorf("%w: %q", simerrors.ErrUnsupportedAlg, alg)
	}
}

func parsePrivate(key models.SigningKey) (crypto.Signer, error) {
	pemBytes := []byte(key.PrivatePEM)

	var (
		priv crypto.Signer
		err  error
	)
	if strings.HasPrefix(key.Alg, "RS") {
		priv, err = jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	} else {
		priv, err = jwt.ParseECPrivateKeyFromPEM(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: private key %s: %v", simerrors.ErrInvalidPEM, key.Kid, err)
	}

	return priv, nil
}

func parsePublic(key models.SigningKey) (crypto.PublicKey, error) {
	pemBytes := []byte(key.PublicPEM)

	var (
		pub crypto.PublicKey
		err error
	)
	if strings.HasPrefix(key.Alg, "RS") {
		pub, err = jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	} else {
		pub, err = jwt.ParseECPublicKeyFromPEM(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: public key %s: %v", simerrors.ErrInvalidPEM, key.Kid, err)
	}

	return pub, nil
}
