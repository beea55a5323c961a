package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func requireOAuthError(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	oe := simerrors.As(err)
	require.NotNil(t, oe)
	assert.Equal(t, code, oe.Code, oe.Error())
	assert.Equal(t, status, oe.Status)
}

func unverifiedClaims(t *testing.T, token string) (jwt.MapClaims, map[string]any) {
	t.Helper()
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	return claims, tok.Header
}

// --- Client authentication ---

func TestAuthenticateClient(t *testing.T) {
	e, _, _ := testEngine(t)

	c, err := e.AuthenticateClient(testClientID, testSecret)
	require.NoError(t, err)
	assert.Equal(t, testClientID, c.ClientID)

	_, err = e.AuthenticateClient(testClientID, "wrong")
	requireOAuthError(t, err, simerrors.CodeInvalidClient, http.StatusUnauthorized)

	_, err = e.AuthenticateClient("nope", testSecret)
	requireOAuthError(t, err, simerrors.CodeInvalidClient, http.StatusUnauthorized)
}

// --- authorization_code ---

func TestToken_AuthorizationCode(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("openid profile offline_access"))

	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "openid profile offline_access", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Len(t, resp.RefreshToken, 64)

	claims, header := unverifiedClaims(t, resp.AccessToken)
	assert.Equal(t, "HS256", header["alg"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, testClientID, claims["aud"])
	assert.Equal(t, testHost, claims["iss"])
	assert.Equal(t, "access_token", claims["token_type"])
	assert.NotEmpty(t, claims["jti"])

	at, ok := s.AccessToken(resp.AccessToken)
	require.True(t, ok)
	assert.Equal(t, "alice", at.Username)

	rt, ok := s.RefreshToken(resp.RefreshToken)
	require.True(t, ok)
	assert.Equal(t, []string{"openid", "profile", "offline_access"}, rt.Scopes)
	assert.Equal(t, at.IssuedAt.Add(7*24*time.Hour), rt.ExpiresAt)
}

func TestToken_NoRefreshWithoutOfflineAccess(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("openid"))

	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, s.Snapshot().RefreshTokens)
}

func TestToken_CodeIsSingleUse(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("openid"))

	_, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	_, err = e.Token(t.Context(), exchange(code), testClient(t, s))
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)
}

func TestToken_CodeBoundToClientAndRedirect(t *testing.T) {
	e, s, _ := testEngine(t)
	other := models.Client{
		ClientID:     "other",
		ClientSecret: "x",
		RedirectURIs: []string{testRedirectURI, "http://localhost:3000/other"},
	}
	s.PutClient(other)
	code := issueCode(t, e, authorizeRequest("openid"))

	_, err := e.Token(t.Context(), exchange(code), other)
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)

	// A mismatch leaves the code redeemable by its owner.
	_, err = e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)
}

func TestToken_RedirectURIMustBeRegistered(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("openid"))

	req := exchange(code)
	req.RedirectURI = "http://evil.example.com"
	_, err := e.Token(t.Context(), req, testClient(t, s))
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)
}

func TestToken_PKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	tests := []struct {
		name      string
		method    string
		challenge string
		verifier  string
		ok        bool
	}{
		{"s256 match", "S256", challenge, verifier, true},
		{"s256 mismatch", "S256", challenge, "wrong", false},
		{"s256 missing verifier", "S256", challenge, "", false},
		{"plain match", "plain", "abc", "abc", true},
		{"plain mismatch", "plain", "abc", "abd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s, _ := testEngine(t)
			areq := authorizeRequest("openid")
			areq.CodeChallenge = tt.challenge
			areq.CodeChallengeMethod = tt.method
			code := issueCode(t, e, areq)

			req := exchange(code)
			req.CodeVerifier = tt.verifier
			_, err := e.Token(t.Context(), req, testClient(t, s))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)
		})
	}
}

func TestToken_PKCEProperty(t *testing.T) {
	e, s, _ := testEngine(t)
	client := testClient(t, s)

	rapid.Check(t, func(rt *rapid.T) {
		verifier := rapid.StringMatching(`[A-Za-z0-9\-._~]{43,64}`).Draw(rt, "verifier")
		sum := sha256.Sum256([]byte(verifier))

		areq := authorizeRequest("openid")
		areq.CodeChallenge = base64.RawURLEncoding.EncodeToString(sum[:])
		areq.CodeChallengeMethod = "S256"
		out := e.Authorize(t.Context(), areq, alice)
		if out.Code == "" {
			rt.Fatalf("no code: %s", out.Location)
		}

		req := exchange(out.Code)
		req.CodeVerifier = verifier
		if _, err := e.Token(t.Context(), req, client); err != nil {
			rt.Fatalf("exchange failed: %v", err)
		}
	})
}

// --- refresh_token ---

func TestToken_RefreshRotation(t *testing.T) {
	e, s, _ := testEngine(t)
	client := testClient(t, s)
	code := issueCode(t, e, authorizeRequest("openid offline_access"))

	first, err := e.Token(t.Context(), exchange(code), client)
	require.NoError(t, err)

	refreshReq := TokenRequest{GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken, Host: testHost}
	second, err := e.Token(t.Context(), refreshReq, client)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, "openid offline_access", second.Scope)

	// The rotated token is gone.
	_, err = e.Token(t.Context(), refreshReq, client)
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)

	// The new one works once.
	refreshReq.RefreshToken = second.RefreshToken
	_, err = e.Token(t.Context(), refreshReq, client)
	require.NoError(t, err)
}

func TestToken_RefreshWrongClient(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("offline_access"))
	first, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	other := models.Client{ClientID: "other"}
	_, err = e.Token(t.Context(), TokenRequest{GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken}, other)
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)

	_, ok := s.RefreshToken(first.RefreshToken)
	assert.True(t, ok)
}

func TestToken_RefreshExpired(t *testing.T) {
	e, s, c := testEngine(t)
	client := testClient(t, s)
	client.RefreshTokenLifetime = time.Minute
	s.PutClient(client)

	code := issueCode(t, e, authorizeRequest("offline_access"))
	first, err := e.Token(t.Context(), exchange(code), client)
	require.NoError(t, err)

	c.Advance(2 * time.Minute)

	_, err = e.Token(t.Context(), TokenRequest{GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken}, client)
	requireOAuthError(t, err, simerrors.CodeInvalidGrant, http.StatusBadRequest)

	_, ok := s.RefreshToken(first.RefreshToken)
	assert.False(t, ok)
}

func TestToken_RefreshMissingToken(t *testing.T) {
	e, s, _ := testEngine(t)
	_, err := e.Token(t.Context(), TokenRequest{GrantType: GrantRefreshToken}, testClient(t, s))
	requireOAuthError(t, err, simerrors.CodeInvalidRequest, http.StatusBadRequest)
}

// --- Grant dispatch ---

func TestToken_GrantTypes(t *testing.T) {
	e, s, _ := testEngine(t)
	client := testClient(t, s)

	_, err := e.Token(t.Context(), TokenRequest{GrantType: "client_credentials"}, client)
	requireOAuthError(t, err, simerrors.CodeUnsupportedGrantType, http.StatusBadRequest)

	_, err = e.Token(t.Context(), TokenRequest{}, client)
	requireOAuthError(t, err, simerrors.CodeInvalidRequest, http.StatusBadRequest)
}

func TestToken_ForcedError(t *testing.T) {
	e, s, _ := testEngine(t)
	code := issueCode(t, e, authorizeRequest("openid"))

	req := exchange(code)
	req.Faults = faults.NewRequestPolicy(url.Values{
		"force_error":       {"temporarily_unavailable"},
		"error_description": {"down"},
	}, 0)

	_, err := e.Token(t.Context(), req, testClient(t, s))
	requireOAuthError(t, err, simerrors.CodeTemporarilyUnavailable, http.StatusServiceUnavailable)

	// The forced error short-circuits before the code is consumed.
	assert.Len(t, s.Snapshot().AuthCodes, 1)
}

// --- Signing ---

func TestToken_AsymmetricSigning(t *testing.T) {
	e, s, _ := testEngine(t)
	s.SetSigningConfig(models.SigningConfig{AsymKeySigning: true, IncludeJWTKid: true})
	code := issueCode(t, e, authorizeRequest("openid offline_access"))

	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	_, header := unverifiedClaims(t, resp.AccessToken)
	assert.Equal(t, "RS256", header["alg"])
	assert.Equal(t, "abc123", header["kid"])

	refreshClaims, _ := unverifiedClaims(t, resp.RefreshToken)
	assert.Equal(t, "refresh_token", refreshClaims["token_type"])
	assert.Equal(t, "alice", refreshClaims["sub"])
	assert.Equal(t, "openid offline_access", refreshClaims["scope"])
}

func TestToken_AsymmetricSigningWithoutKid(t *testing.T) {
	e, s, _ := testEngine(t)
	s.SetSigningConfig(models.SigningConfig{AsymKeySigning: true})
	code := issueCode(t, e, authorizeRequest("openid"))

	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	_, header := unverifiedClaims(t, resp.AccessToken)
	assert.NotContains(t, header, "kid")
}

func TestToken_MissingKeyIsServerError(t *testing.T) {
	e, s, _ := testEngine(t)
	s.SetSigningConfig(models.SigningConfig{AsymKeySigning: true})
	require.NoError(t, s.DeleteSigningKey("abc123"))
	code := issueCode(t, e, authorizeRequest("openid"))

	_, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	requireOAuthError(t, err, simerrors.CodeServerError, http.StatusInternalServerError)
	assert.Empty(t, s.Snapshot().Tokens)
}

func TestToken_ClaimTemplates(t *testing.T) {
	e, s, _ := testEngine(t)
	s.PutUser(models.User{Username: "alice", Password: "pw123", Claims: map[string]any{"email": "alice@example.com"}})

	cfg := s.ClaimConfig()
	cfg.Clients[testClientID] = map[string]any{"email": "{{user.email}}", "token_type": nil}
	cfg.Users["alice"] = map[string]any{"role": "admin"}
	s.SetClaimConfig(cfg)

	code := issueCode(t, e, authorizeRequest("openid"))
	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	claims, _ := unverifiedClaims(t, resp.AccessToken)
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, "admin", claims["role"])
	assert.NotContains(t, claims, "token_type")
}

func TestToken_DefaultExpiryWhenTemplateDropsExp(t *testing.T) {
	e, s, _ := testEngine(t)
	s.SetClaimConfig(models.ClaimConfig{Globals: map[string]any{"sub": "{{username}}"}})

	code := issueCode(t, e, authorizeRequest("openid"))
	resp, err := e.Token(t.Context(), exchange(code), testClient(t, s))
	require.NoError(t, err)

	claims, _ := unverifiedClaims(t, resp.AccessToken)
	assert.Contains(t, claims, "exp")
}
