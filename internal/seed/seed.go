// Package seed builds the initial simulator state, either from the
// built-in defaults or from a YAML document.
package seed

import (
	"fmt"
	"os"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/signing"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"gopkg.in/yaml.v3"
)

// DefaultKid is the kid of the key generated when a document has none.
const DefaultKid = "abc123"

// Document is the seed file layout. Empty sections fall back to the
// built-in defaults.
type Document struct {
	Clients        []models.Client        `yaml:"clients"`
	Users          []models.User          `yaml:"users"`
	Keys           []models.SigningKey    `yaml:"keys"`
	ActiveKid      string                 `yaml:"activeKid"`
	Signing        *models.SigningConfig  `yaml:"signing"`
	Claims         *models.ClaimConfig    `yaml:"claims"`
	UserinfoScopes *models.UserinfoScopes `yaml:"userinfoScopes"`
	Discovery      map[string]any         `yaml:"discovery"`
}

// Default returns the built-in document: one confidential client, one
// user and a freshly generated RS256 key.
func Default() (Document, error) {
	key, err := signing.GenerateKey(DefaultKid, "RS256")
	if err != nil {
		return Document{}, fmt.Errorf("generating default key: %w", err)
	}

	return Document{
		Clients: []models.Client{{
			ClientID:     "web-app",
			ClientSecret: "shhh",
			RedirectURIs: []string{"http://localhost:3000/callback"},
			Scopes: []models.Scope{
				{Name: "openid", Description: "OpenID Connect basic scope"},
				{Name: "profile", Description: "User profile information"},
				{Name: "offline_access", Description: "Offline access"},
			},
			RefreshTokenLifetime: 7 * 24 * time.Hour,
		}},
		Users: []models.User{{
			Username: "alice",
			Password: "pw123",
		}},
		Keys:      []models.SigningKey{key},
		ActiveKid: DefaultKid,
		Signing:   &models.SigningConfig{IncludeJWTKid: true},
		Claims: &models.ClaimConfig{
			Globals: map[string]any{
				"iss":        "{{host}}",
				"sub":        "{{username}}",
				"aud":        "{{aud}}",
				"exp":        "{{exp}}",
				"iat":        "{{now}}",
				"scope":      "{{scope}}",
				"client_id":  "{{client}}",
				"username":   "{{username}}",
				"token_type": "access_token",
			},
		},
		UserinfoScopes: &models.UserinfoScopes{
			Globals: map[string][]string{
				"openid":         {"sub"},
				"profile":        {"name", "nickname", "preferred_username"},
				"email":          {"email", "email_verified"},
				"offline_access": {},
			},
		},
		Discovery: DefaultDiscovery(),
	}, nil
}

// DefaultDiscovery is the discovery document template. "{{host}}" is
// replaced with the request's scheme and host when served.
func DefaultDiscovery() map[string]any {
	return map[string]any{
		"issuer":                                "{{host}}",
		"authorization_endpoint":                "{{host}}/authorize",
		"token_endpoint":                        "{{host}}/token",
		"userinfo_endpoint":                     "{{host}}/userinfo",
		"jwks_uri":                              "{{host}}/jwks",
		"introspection_endpoint":                "{{host}}/introspect",
		"revocation_endpoint":                   "{{host}}/revoke",
		"end_session_endpoint":                  "{{host}}/logout",
		"response_types_supported":              []any{"code"},
		"subject_types_supported":               []any{"public"},
		"id_token_signing_alg_values_supported": []any{"RS256"},
		"scopes_supported":                      []any{"openid", "profile", "email", "offline_access"},
		"grant_types_supported":                 []any{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []any{"plain", "S256"},
		"claims_supported": []any{
			"sub", "name", "email", "preferred_username", "aud", "iss", "exp", "iat",
		},
		"token_endpoint_auth_methods_supported": []any{"client_secret_basic", "client_secret_post"},
	}
}

// Load reads a YAML document from path. An empty path returns Default.
func Load(path string) (Document, error) {
	def, err := Default()
	if err != nil {
		return Document{}, err
	}

	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading seed file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	doc.fillFrom(def)

	return doc, nil
}

// fillFrom copies sections missing from d out of def. Signing is left
// nil so the caller can apply its own toggles.
func (d *Document) fillFrom(def Document) {
	if len(d.Clients) == 0 {
		d.Clients = def.Clients
	}
	if len(d.Users) == 0 {
		d.Users = def.Users
	}
	if len(d.Keys) == 0 {
		d.Keys = def.Keys
		if d.ActiveKid == "" {
			d.ActiveKid = def.ActiveKid
		}
	}
	if d.Claims == nil {
		d.Claims = def.Claims
	}
	if d.UserinfoScopes == nil {
		d.UserinfoScopes = def.UserinfoScopes
	}
	if d.Discovery == nil {
		d.Discovery = def.Discovery
	}
}

// Apply writes the document into s. Clients and users replace existing
// entries with the same id.
func Apply(s *store.Store, doc Document) error {
	for _, c := range doc.Clients {
		s.PutClient(c)
	}
	for _, u := range doc.Users {
		s.PutUser(u)
	}

	for _, k := range doc.Keys {
		if err := s.AddSigningKey(k); err != nil {
			return fmt.Errorf("adding key %s: %w", k.Kid, err)
		}
	}

	if doc.ActiveKid != "" {
		if err := s.SetActiveKid(doc.ActiveKid); err != nil {
			return fmt.Errorf("activating key %s: %w", doc.ActiveKid, err)
		}
	}

	if doc.Signing != nil {
		s.SetSigningConfig(*doc.Signing)
	}
	if doc.Claims != nil {
		s.SetClaimConfig(*doc.Claims)
	}
	if doc.UserinfoScopes != nil {
		s.SetUserinfoScopes(*doc.UserinfoScopes)
	}
	if doc.Discovery != nil {
		s.SetDiscovery(doc.Discovery)
	}

	return nil
}
