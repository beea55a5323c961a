package oauth

import (
	"context"
	"log/slog"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/signing"
)

// IntrospectRequest is a parsed RFC 7662 request.
type IntrospectRequest struct {
	Token         string
	TokenTypeHint string

	// Host is reported as iss for refresh tokens.
	Host string

	Faults faults.ErrorPolicy
}

// IntrospectionResponse is the RFC 7662 response body. Only Active is set
// for inactive tokens.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       any    `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

func inactive() *IntrospectionResponse {
	return &IntrospectionResponse{}
}

// Introspect reports whether a token is active. Unknown, expired and
// unverifiable tokens are inactive; only a forced fault is an error.
func (e *Engine) Introspect(ctx context.Context, req IntrospectRequest, client models.Client) (*IntrospectionResponse, error) {
	if oe := e.forcedError(ctx, faults.EndpointIntrospect, req.Faults); oe != nil {
		return nil, oe
	}

	if req.Token == "" {
		return inactive(), nil
	}

	lookups := []func(IntrospectRequest) (*IntrospectionResponse, bool){e.introspectAccess, e.introspectRefresh}
	if req.TokenTypeHint == TokenTypeRefresh {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}

	for _, lookup := range lookups {
		if resp, found := lookup(req); found {
			e.logger.DebugContext(ctx, "token introspected",
				slog.String("client_id", client.ClientID),
				slog.Bool("active", resp.Active),
			)
			return resp, nil
		}
	}

	return inactive(), nil
}

// introspectAccess reports found=false only when the token is not in the
// access token store.
func (e *Engine) introspectAccess(req IntrospectRequest) (*IntrospectionResponse, bool) {
	at, ok := e.store.AccessToken(req.Token)
	if !ok {
		return nil, false
	}

	v := signing.SelectVerifier(e.store.SigningConfig(), e.store.SigningKeys(), e.store.ActiveKid(), e.secret)
	tokenClaims, err := v.Verify(req.Token)
	if err != nil {
		return inactive(), true
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     at.Scope,
		ClientID:  at.ClientID,
		Username:  at.Username,
		TokenType: TokenTypeAccess,
		Exp:       at.ExpiresAt.Unix(),
		Iat:       at.IssuedAt.Unix(),
		Sub:       at.Username,
		Aud:       at.ClientID,
	}
	if sub, ok := tokenClaims["sub"].(string); ok && sub != "" {
		resp.Sub = sub
	}
	if aud, ok := tokenClaims["aud"]; ok {
		resp.Aud = aud
	}
	if iss, ok := tokenClaims["iss"].(string); ok {
		resp.Iss = iss
	}

	return resp, true
}

func (e *Engine) introspectRefresh(req IntrospectRequest) (*IntrospectionResponse, bool) {
	rt, ok := e.store.RefreshToken(req.Token)
	if !ok {
		return nil, false
	}

	if rt.Expired(e.now()) {
		return inactive(), true
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     models.JoinScope(rt.Scopes),
		ClientID:  rt.ClientID,
		Username:  rt.Username,
		TokenType: TokenTypeRefresh,
		Iat:       rt.IssuedAt.Unix(),
		Sub:       rt.Username,
		Aud:       rt.ClientID,
		Iss:       req.Host,
	}
	if !rt.ExpiresAt.IsZero() {
		resp.Exp = rt.ExpiresAt.Unix()
	}

	return resp, true
}

// RevokeRequest is a parsed RFC 7009 request.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string

	Faults faults.ErrorPolicy
}

// Revoke deletes a token owned by client. Tokens owned by other clients
// and unknown tokens are ignored.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest, client models.Client) error {
	if oe := e.forcedError(ctx, faults.EndpointRevoke, req.Faults); oe != nil {
		return oe
	}

	if req.Token == "" {
		return e.fail(faults.EndpointRevoke, simerrors.InvalidRequest("token is required"))
	}

	var found, revoked bool
	switch req.TokenTypeHint {
	case TokenTypeAccess:
		found, revoked = e.store.RevokeAccessToken(req.Token, client.ClientID)
	case TokenTypeRefresh:
		found, revoked = e.store.RevokeRefreshToken(req.Token, client.ClientID)
	default:
		found, revoked = e.store.RevokeAccessToken(req.Token, client.ClientID)
		if !found {
			found, revoked = e.store.RevokeRefreshToken(req.Token, client.ClientID)
		}
	}

	e.logger.InfoContext(ctx, "revocation",
		slog.String("client_id", client.ClientID),
		slog.Bool("found", found),
		slog.Bool("revoked", revoked),
	)

	return nil
}
