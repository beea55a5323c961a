package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

const rsaKeyBits = 2048

// GenerateKey creates a signing key pair for alg. An empty kid is replaced
// with a random one.
func GenerateKey(kid, alg string) (models.SigningKey, error) {
	if kid == "" {
		kid = uuid.NewString()
	}

	var (
		privDER []byte
		privTyp string
		pub     any
		kty     string
	)

	switch alg {
	case "RS256", "RS384", "RS512":
		priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return models.SigningKey{}, fmt.Errorf("generating rsa key: %w", err)
		}
		privDER = x509.MarshalPKCS1PrivateKey(priv)
		privTyp = "RSA PRIVATE KEY"
		pub = &priv.PublicKey
		kty = "RSA"
	case "ES256", "ES384", "ES512":
		priv, err := ecdsa.GenerateKey(curveFor(alg), rand.Reader)
		if err != nil {
			return models.SigningKey{}, fmt.Errorf("generating ec key: %w", err)
		}
		privDER, err = x509.MarshalECPrivateKey(priv)
		if err != nil {
			return models.SigningKey{}, fmt.Errorf("encoding ec key: %w", err)
		}
		privTyp = "EC PRIVATE KEY"
		pub = &priv.PublicKey
		kty = "EC"
	default:
		return models.SigningKey{}, fmt.Errorf("%w: %q", simerrors.ErrUnsupportedAlg, alg)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return models.SigningKey{}, fmt.Errorf("encoding public key: %w", err)
	}

	return models.SigningKey{
		Kid:        kid,
		Kty:        kty,
		Alg:        alg,
		Use:        "sig",
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: privTyp, Bytes: privDER})),
	}, nil
}

func curveFor(alg string) elliptic.Curve {
	switch alg {
	case "ES384":
		return elliptic.P384()
	case "ES512":
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}

// PublicJWKS projects keys to a JSON Web Key Set. Keys whose public PEM
// does not parse are skipped.
func PublicJWKS(keys []models.SigningKey) jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		if _, err := methodFor(k.Alg); err != nil {
			continue
		}

		pub, err := parsePublic(k)
		if err != nil {
			continue
		}

		use := k.Use
		if use == "" {
			use = "sig"
		}

		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     k.Kid,
			Algorithm: k.Alg,
			Use:       use,
		})
	}

	return set
}
