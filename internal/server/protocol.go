package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/oauth"
	"github.com/alexjbarnes/oauth-flow-sim/internal/signing"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
)

// maxBodyBytes bounds request bodies on the JSON and form endpoints.
const maxBodyBytes = 1 << 20

// delay applies the configured and requested delay for endpoint. It
// returns false when the client went away while waiting.
func (g *gate) delay(r *http.Request, endpoint string, params url.Values) bool {
	policy := faults.Longest(faults.NewStorePolicy(g.store), faults.NewRequestPolicy(params, g.maxDelay))

	d := min(policy.ResolveDelay(endpoint), g.maxDelay)
	if d <= 0 {
		return true
	}

	g.metrics.FaultInjected(endpoint, "delay")
	g.logger.DebugContext(r.Context(), "injecting delay",
		slog.String("endpoint", endpoint),
		slog.Duration("delay", d),
	)

	return faults.Sleep(r.Context(), d) == nil
}

// requestParams collects the parameters of a form or JSON request. Query
// parameters are included so force_error and delay work on either.
func requestParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decoding json body: %w", err)
		}

		params := r.URL.Query()
		for k, v := range body {
			switch v := v.(type) {
			case nil:
			case string:
				params.Set(k, v)
			default:
				params.Set(k, fmt.Sprint(v))
			}
		}

		return params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing form: %w", err)
	}

	return r.Form, nil
}

// authenticateClient checks the client credentials of a back-channel
// request. HTTP Basic credentials take precedence over body parameters.
func (g *gate) authenticateClient(r *http.Request, params url.Values, endpoint string) (models.Client, error) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = params.Get("client_id"), params.Get("client_secret")
	}

	client, err := g.engine.AuthenticateClient(id, secret)
	if err != nil {
		g.metrics.OAuthError(endpoint, simerrors.CodeInvalidClient)
		g.logger.WarnContext(r.Context(), "client authentication failed",
			slog.String("endpoint", endpoint),
			slog.String("client_id", id),
		)

		return models.Client{}, err
	}

	return client, nil
}

// session returns the logged-in user of the request, or nil.
func (s *server) session(r *http.Request) *oauth.Session {
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil
	}

	return s.engine.SessionFor(c.Value)
}

// handleAuthorize serves the authorization endpoint. sessions returns the
// logged-in user of a request, or nil.
func handleAuthorize(g *gate, sessions func(*http.Request) *oauth.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if !g.delay(r, faults.EndpointAuthorize, q) {
			return
		}

		req := oauth.ParseAuthorizeRequest(q)
		req.Browser = req.Browser && acceptsHTML(r)
		req.Faults = faults.NewRequestPolicy(q, g.maxDelay)

		out := g.engine.Authorize(r.Context(), req, sessions(r))
		if out.IsRedirect() {
			http.Redirect(w, r, out.Location, http.StatusFound)
			return
		}

		writeJSONError(w, out.Status, out.Err.Code, out.Err.Description)
	}
}

// handleToken serves the token endpoint for both supported grants.
func handleToken(g *gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "Invalid request body")
			return
		}

		if !g.delay(r, faults.EndpointToken, params) {
			return
		}

		client, err := g.authenticateClient(r, params, faults.EndpointToken)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		resp, err := g.engine.Token(r.Context(), oauth.TokenRequest{
			GrantType:    params.Get("grant_type"),
			Code:         params.Get("code"),
			RedirectURI:  params.Get("redirect_uri"),
			CodeVerifier: params.Get("code_verifier"),
			RefreshToken: params.Get("refresh_token"),
			Host:         requestHost(r),
			Faults:       faults.NewRequestPolicy(params, g.maxDelay),
		}, client)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleIntrospect(g *gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "Invalid request body")
			return
		}

		if !g.delay(r, faults.EndpointIntrospect, params) {
			return
		}

		client, err := g.authenticateClient(r, params, faults.EndpointIntrospect)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		resp, err := g.engine.Introspect(r.Context(), oauth.IntrospectRequest{
			Token:         params.Get("token"),
			TokenTypeHint: params.Get("token_type_hint"),
			Host:          requestHost(r),
			Faults:        faults.NewRequestPolicy(params, g.maxDelay),
		}, client)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// handleRevoke answers 200 with an empty body whether or not the token
// existed.
func handleRevoke(g *gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "Invalid request body")
			return
		}

		if !g.delay(r, faults.EndpointRevoke, params) {
			return
		}

		client, err := g.authenticateClient(r, params, faults.EndpointRevoke)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		err = g.engine.Revoke(r.Context(), oauth.RevokeRequest{
			Token:         params.Get("token"),
			TokenTypeHint: params.Get("token_type_hint"),
			Faults:        faults.NewRequestPolicy(params, g.maxDelay),
		}, client)
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func handleUserinfo(g *gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if !g.delay(r, faults.EndpointUserinfo, q) {
			return
		}

		info, err := g.engine.Userinfo(r.Context(), oauth.UserinfoRequest{
			AccessToken: bearerToken(r),
			Faults:      faults.NewRequestPolicy(q, g.maxDelay),
		})
		if err != nil {
			writeOAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, info)
	}
}

func handleJWKS(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, signing.PublicJWKS(st.SigningKeys()))
	}
}

// handleDiscovery serves the discovery document with {{host}} expanded to
// the address the request was sent to.
func handleDiscovery(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, expandHost(st.Discovery(), requestHost(r)))
	}
}

const hostPlaceholder = "{{host}}"

// expandHost replaces {{host}} in every string of a discovery document.
func expandHost(v any, host string) any {
	switch v := v.(type) {
	case string:
		return strings.ReplaceAll(v, hostPlaceholder, host)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = expandHost(val, host)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = expandHost(val, host)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, val := range v {
			out[i] = strings.ReplaceAll(val, hostPlaceholder, host)
		}
		return out
	default:
		return v
	}
}
