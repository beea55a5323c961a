package oauth

import (
	"context"
	"net/http"

	"github.com/alexjbarnes/oauth-flow-sim/internal/claims"
	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
)

// CodeUserNotFound is returned by userinfo when the token's user was
// deleted after issuance.
const CodeUserNotFound = "user_not_found"

// UserinfoRequest is a parsed /userinfo request.
type UserinfoRequest struct {
	AccessToken string

	// Faults overrides the engine's error policy for this request.
	Faults faults.ErrorPolicy
}

// Userinfo returns the profile claims the access token's scopes release.
func (e *Engine) Userinfo(ctx context.Context, req UserinfoRequest) (map[string]any, error) {
	if oe := e.forcedError(ctx, faults.EndpointUserinfo, req.Faults); oe != nil {
		return nil, oe
	}

	bearer := req.AccessToken
	if bearer == "" {
		return nil, e.fail(faults.EndpointUserinfo,
			simerrors.WithStatus(http.StatusUnauthorized, simerrors.CodeInvalidRequest, "Missing bearer token"))
	}

	at, ok := e.store.AccessToken(bearer)
	if !ok || e.now().After(at.ExpiresAt) {
		return nil, e.fail(faults.EndpointUserinfo,
			simerrors.New(simerrors.CodeInvalidToken, "Invalid or expired access token"))
	}

	allowed := claims.UserinfoClaims(e.store.UserinfoScopes(), at.ClientID, at.Username, models.SplitScope(at.Scope))
	if len(allowed) == 0 {
		return nil, e.fail(faults.EndpointUserinfo,
			simerrors.New(simerrors.CodeInsufficientScope, "Token scopes release no userinfo claims"))
	}

	user, ok := e.store.User(at.Username)
	if !ok {
		return nil, e.fail(faults.EndpointUserinfo,
			simerrors.WithStatus(http.StatusNotFound, CodeUserNotFound, "User not found"))
	}

	out := make(map[string]any, len(allowed))
	for _, name := range allowed {
		if name == "sub" {
			out["sub"] = user.Username
			continue
		}
		if v, ok := user.Claims[name]; ok {
			out[name] = v
		}
	}

	return out, nil
}
