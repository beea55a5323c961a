package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/claims"
	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/pkce"
	"github.com/alexjbarnes/oauth-flow-sim/internal/signing"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"github.com/google/uuid"
)

const refreshTokenBytes = 32

// TokenRequest is a parsed /token request. Client credentials are
// checked before the engine sees it.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string

	// Host is the scheme and host the request was made to, used for the
	// {{host}} claim template.
	Host string

	Faults faults.ErrorPolicy
}

// TokenResponse is the successful /token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token dispatches a token request for an authenticated client.
func (e *Engine) Token(ctx context.Context, req TokenRequest, client models.Client) (*TokenResponse, error) {
	if oe := e.forcedError(ctx, faults.EndpointToken, req.Faults); oe != nil {
		return nil, oe
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch req.GrantType {
	case GrantAuthorizationCode:
		resp, err = e.exchangeCode(ctx, req, client)
	case GrantRefreshToken:
		resp, err = e.refresh(ctx, req, client)
	case "":
		err = simerrors.InvalidRequest("grant_type is required")
	default:
		err = simerrors.New(simerrors.CodeUnsupportedGrantType, "Only authorization_code and refresh_token are supported")
	}

	if err != nil {
		oe := simerrors.As(err)
		e.fail(faults.EndpointToken, oe)
		e.logger.WarnContext(ctx, "token request failed",
			slog.String("client_id", client.ClientID),
			slog.String("grant_type", req.GrantType),
			slog.String("error", err.Error()),
		)

		return nil, oe
	}

	return resp, nil
}

var errCodeMismatch = errors.New("code issued for another client or redirect_uri")

func (e *Engine) exchangeCode(ctx context.Context, req TokenRequest, client models.Client) (*TokenResponse, error) {
	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, simerrors.InvalidGrant("Invalid redirect URI")
	}

	if req.Code == "" {
		return nil, simerrors.InvalidRequest("code is required")
	}

	ac, err := e.store.ConsumeCode(req.Code, e.now(), func(ac *models.AuthorizationCode) error {
		if ac.ClientID != client.ClientID || ac.RedirectURI != req.RedirectURI {
			return errCodeMismatch
		}
		if ac.PKCE != nil && !pkce.Verify(req.CodeVerifier, ac.PKCE.Challenge, ac.PKCE.Method) {
			return simerrors.InvalidGrant("PKCE verification failed")
		}

		return nil
	})
	if err != nil {
		var oe *simerrors.OAuthError
		if errors.As(err, &oe) {
			return nil, oe
		}

		return nil, simerrors.InvalidGrant("Invalid or expired code")
	}

	return e.issue(ctx, issueParams{
		client:    client,
		username:  ac.Username,
		scopes:    models.SplitScope(ac.Scope),
		grantType: GrantAuthorizationCode,
		host:      req.Host,
	})
}

func (e *Engine) refresh(ctx context.Context, req TokenRequest, client models.Client) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, simerrors.InvalidRequest("refresh_token is required")
	}

	rt, err := e.store.TakeRefreshToken(req.RefreshToken, client.ClientID, e.now())
	switch {
	case errors.Is(err, simerrors.ErrClientMismatch):
		return nil, simerrors.InvalidGrant("Refresh token was issued to another client")
	case errors.Is(err, simerrors.ErrExpired):
		return nil, simerrors.InvalidGrant("Refresh token expired")
	case err != nil:
		return nil, simerrors.InvalidGrant("Invalid refresh token")
	}

	return e.issue(ctx, issueParams{
		client:       client,
		username:     rt.Username,
		scopes:       rt.Scopes,
		grantType:    GrantRefreshToken,
		host:         req.Host,
		forceRefresh: true,
	})
}

type issueParams struct {
	client    models.Client
	username  string
	scopes    []string
	grantType string
	host      string

	// forceRefresh mints a refresh token even without offline_access.
	forceRefresh bool
}

// issue mints an access token, and a refresh token when offline_access
// was granted, and stores both.
func (e *Engine) issue(ctx context.Context, p issueParams) (*TokenResponse, error) {
	now := e.now()
	exp := now.Add(AccessTokenLifetime)
	scope := models.JoinScope(p.scopes)

	user, _ := e.store.User(p.username)
	tmpl := claims.ForRequest(e.store.ClaimConfig(), p.client.ClientID, p.username)
	tokenClaims := claims.Resolve(tmpl, claims.Context{
		Username: p.username,
		Client:   p.client.ClientID,
		Scope:    scope,
		Host:     p.host,
		IssuedAt: now,
		Expiry:   exp,
		User:     user.Claims,
	})
	if _, ok := tokenClaims["exp"]; !ok {
		tokenClaims["exp"] = exp.Unix()
	}
	if _, ok := tokenClaims["jti"]; !ok {
		tokenClaims["jti"] = uuid.NewString()
	}

	cfg := e.store.SigningConfig()
	signer, err := signing.Select(cfg, e.store.SigningKeys(), e.store.ActiveKid(), e.secret)
	if err != nil {
		e.logger.ErrorContext(ctx, "selecting signing key", slog.String("error", err.Error()))
		return nil, simerrors.ServerError("No usable signing key")
	}

	accessToken, err := signer.Sign(tokenClaims)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	e.store.SaveAccessToken(&models.AccessToken{
		Token:     accessToken,
		Username:  p.username,
		ClientID:  p.client.ClientID,
		Scope:     scope,
		Claims:    tokenClaims,
		IssuedAt:  now,
		ExpiresAt: exp,
	})
	e.metrics.TokenIssued(p.grantType, TokenTypeAccess)

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenLifetime / time.Second),
		Scope:       scope,
	}

	if p.forceRefresh || slices.Contains(p.scopes, ScopeOfflineAccess) {
		rt, err := e.mintRefreshToken(p, cfg, signer, now)
		if err != nil {
			return nil, err
		}

		resp.RefreshToken = rt
		e.metrics.TokenIssued(p.grantType, TokenTypeRefresh)
	}

	e.logger.InfoContext(ctx, "tokens issued",
		slog.String("client_id", p.client.ClientID),
		slog.String("username", p.username),
		slog.String("grant_type", p.grantType),
		slog.Bool("refresh_token", resp.RefreshToken != ""),
	)

	return resp, nil
}

func (e *Engine) mintRefreshToken(p issueParams, cfg models.SigningConfig, signer signing.Signer, now time.Time) (string, error) {
	lifetime := p.client.RefreshTokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultRefreshTokenLifetime
	}
	exp := now.Add(lifetime)

	token := store.RandomHex(refreshTokenBytes)
	if cfg.AsymKeySigning {
		var err error
		token, err = signer.Sign(map[string]any{
			"sub":        p.username,
			"aud":        p.client.ClientID,
			"scope":      models.JoinScope(p.scopes),
			"iat":        now.Unix(),
			"exp":        exp.Unix(),
			"token_type": TokenTypeRefresh,
			"jti":        uuid.NewString(),
		})
		if err != nil {
			return "", fmt.Errorf("minting refresh token: %w", err)
		}
	}

	e.store.SaveRefreshToken(&models.RefreshToken{
		Token:     token,
		Username:  p.username,
		ClientID:  p.client.ClientID,
		Scopes:    slices.Clone(p.scopes),
		IssuedAt:  now,
		ExpiresAt: exp,
	})

	return token, nil
}
