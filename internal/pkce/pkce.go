// Package pkce checks RFC 7636 code verifiers against the challenge
// captured at authorization time.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// SupportedMethod reports whether method is plain or S256.
func SupportedMethod(method string) bool {
	return method == MethodPlain || method == MethodS256
}

// Challenge derives the challenge for verifier under method. Unknown
// methods return an empty string.
func Challenge(verifier, method string) string {
	switch method {
	case MethodPlain:
		return verifier
	case MethodS256:
		h := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(h[:])
	default:
		return ""
	}
}

// Verify reports whether verifier matches challenge under method. An
// empty verifier never matches.
func Verify(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" || !SupportedMethod(method) {
		return false
	}

	computed := Challenge(verifier, method)

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
