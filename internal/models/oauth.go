// Package models defines types shared across internal packages.
package models

import (
	"slices"
	"strings"
	"time"
)

// Scope is a scope registered on a client.
type Scope struct {
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description" yaml:"description"`
	ConsentNeeded bool   `json:"consentNeeded" yaml:"consentNeeded"`
}

// Client is a registered OAuth client.
type Client struct {
	ClientID     string   `json:"clientId" yaml:"clientId"`
	ClientSecret string   `json:"clientSecret" yaml:"clientSecret"`
	RedirectURIs []string `json:"redirectUris" yaml:"redirectUris"`
	Scopes       []Scope  `json:"scopes" yaml:"scopes"`

	// RefreshTokenLifetime of zero means the default lifetime applies.
	RefreshTokenLifetime time.Duration `json:"refreshTokenLifetime,omitempty" yaml:"refreshTokenLifetime"`
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// Scope returns the registered scope with the given name.
func (c *Client) Scope(name string) (Scope, bool) {
	for _, s := range c.Scopes {
		if s.Name == name {
			return s, true
		}
	}

	return Scope{}, false
}

// User is a resource owner. Claims holds arbitrary profile claims such as
// email or name.
type User struct {
	Username string         `json:"username" yaml:"username"`
	Password string         `json:"password,omitempty" yaml:"password"`
	Claims   map[string]any `json:"claims,omitempty" yaml:"claims"`
}

// PKCEChallenge is the challenge captured at authorization time.
type PKCEChallenge struct {
	Challenge string `json:"code_challenge"`
	Method    string `json:"code_challenge_method"`
}

// AuthorizationCode is a pending, single-use authorization code.
type AuthorizationCode struct {
	Code        string         `json:"code"`
	ClientID    string         `json:"clientId"`
	Username    string         `json:"username"`
	Scope       string         `json:"scope"`
	RedirectURI string         `json:"redirectUri"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	PKCE        *PKCEChallenge `json:"pkce,omitempty"`
}

// AccessToken is the stored snapshot of an issued access token.
type AccessToken struct {
	Token     string         `json:"-"`
	Username  string         `json:"username"`
	ClientID  string         `json:"clientId"`
	Scope     string         `json:"scope"`
	Claims    map[string]any `json:"claims"`
	IssuedAt  time.Time      `json:"issuedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// RefreshToken is the stored metadata of an issued refresh token. A zero
// ExpiresAt means the token does not expire.
type RefreshToken struct {
	Token     string    `json:"-"`
	Username  string    `json:"username"`
	ClientID  string    `json:"clientId"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the token carries an expiry that has passed.
func (rt *RefreshToken) Expired(now time.Time) bool {
	return !rt.ExpiresAt.IsZero() && now.After(rt.ExpiresAt)
}

// SigningKey is an asymmetric key pair. Key material is PEM encoded.
type SigningKey struct {
	Kid        string `json:"kid" yaml:"kid"`
	Kty        string `json:"kty" yaml:"kty"`
	Alg        string `json:"alg" yaml:"alg"`
	Use        string `json:"use" yaml:"use"`
	PublicPEM  string `json:"public" yaml:"public"`
	PrivatePEM string `json:"private,omitempty" yaml:"private"`
}

// SigningConfig toggles asymmetric signing process-wide.
type SigningConfig struct {
	AsymKeySigning bool `json:"asymKeySigning" yaml:"asymKeySigning"`
	IncludeJWTKid  bool `json:"includeJwtKid" yaml:"includeJwtKid"`
}

// ClaimConfig holds raw claim templates in three layers. A nil value in
// a client or user layer deletes the inherited claim.
type ClaimConfig struct {
	Globals map[string]any            `json:"globals" yaml:"globals"`
	Clients map[string]map[string]any `json:"clients" yaml:"clients"`
	Users   map[string]map[string]any `json:"users" yaml:"users"`
}

// UserinfoScopes maps scopes to the claims they release, in three layers.
type UserinfoScopes struct {
	Globals map[string][]string            `json:"globals" yaml:"globals"`
	Clients map[string]map[string][]string `json:"clients" yaml:"clients"`
	Users   map[string]map[string][]string `json:"users" yaml:"users"`
}

// Fault is a forced OAuth error.
type Fault struct {
	Status           int    `json:"status" yaml:"status"`
	Error            string `json:"error" yaml:"error"`
	ErrorDescription string `json:"error_description,omitempty" yaml:"error_description"`
}

// SplitScope splits a space-delimited scope string.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope joins scopes into a space-delimited string.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
