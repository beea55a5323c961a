package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/pkce"
)

// Consent decisions carried on a re-entered authorization request.
const (
	ConsentGiven    = "given"
	ConsentRejected = "rejected"
)

// Paths the state machine redirects the user agent to.
const (
	LoginPath   = "/login"
	ConsentPath = "/consent"
	ErrorPath   = "/error"
)

// AuthorizeRequest is a parsed /authorize request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Consent             string
	Prompt              string

	// Browser is false for user agents that cannot render the login page.
	Browser bool

	// Params is the original query, forwarded to the login and consent
	// pages so they can re-enter the flow.
	Params url.Values

	// Faults overrides the engine's error policy for this request.
	Faults faults.ErrorPolicy
}

// ParseAuthorizeRequest reads the OAuth parameters of q.
func ParseAuthorizeRequest(q url.Values) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Consent:             q.Get("consent"),
		Prompt:              q.Get("prompt"),
		Browser:             q.Get("prompt") != "none",
		Params:              q,
	}
}

// Outcome is the result of an authorization request: either a redirect
// to Location, or a direct error response when Location is empty.
type Outcome struct {
	Location string
	Status   int
	Err      *simerrors.OAuthError

	// Code is set when an authorization code was issued.
	Code string
}

// IsRedirect reports whether the outcome is a redirect.
func (o Outcome) IsRedirect() bool {
	return o.Location != ""
}

func redirect(location string) Outcome {
	return Outcome{Location: location, Status: http.StatusFound}
}

// Authorize runs the authorization request through the validation chain.
// The first failing check decides the outcome.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest, sess *Session) Outcome {
	if oe := e.forcedError(ctx, faults.EndpointAuthorize, req.Faults); oe != nil {
		if isAbsoluteURL(req.RedirectURI) {
			return redirect(callbackError(req.RedirectURI, oe, req.State))
		}

		if oe.Description == "" {
			oe.Description = "Missing redirect_uri"
		}

		return Outcome{Status: oe.Status, Err: oe}
	}

	if req.ResponseType != "code" {
		return e.errorPage(simerrors.New(simerrors.CodeUnsupportedResponseType, "Only response_type=code is supported"))
	}

	client, ok := e.store.Client(req.ClientID)
	if !ok {
		return e.errorPage(simerrors.New(simerrors.CodeInvalidClient, "Unknown client"))
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		return e.errorPage(simerrors.New(simerrors.CodeInvalidRedirectURI, "Invalid redirect_uri"))
	}

	requested := models.SplitScope(req.Scope)
	for _, name := range requested {
		if _, ok := client.Scope(name); !ok {
			return e.callbackError(req, simerrors.New(simerrors.CodeInvalidScope, "Invalid scope: "+name))
		}
	}

	method := req.CodeChallengeMethod
	if method != "" && !pkce.SupportedMethod(method) {
		return e.callbackError(req, simerrors.InvalidRequest("Unsupported code_challenge_method"))
	}
	if method != "" && req.CodeChallenge == "" {
		return e.callbackError(req, simerrors.InvalidRequest("code_challenge is required"))
	}

	if sess == nil || sess.Username == "" {
		if req.Browser {
			return redirect(LoginPath + "?" + encodeQuery(req.Params))
		}

		return e.callbackError(req, simerrors.New(simerrors.CodeLoginRequired, "User not logged in"))
	}

	granted := e.store.GrantedScopes(sess.Username, client.ClientID)
	var pending []string
	for _, name := range requested {
		scope, _ := client.Scope(name)
		if scope.ConsentNeeded && !slices.Contains(granted, name) && !slices.Contains(pending, name) {
			pending = append(pending, name)
		}
	}

	// Anything other than an explicit decision counts as no decision.
	switch req.Consent {
	case ConsentRejected:
		e.logger.InfoContext(ctx, "consent rejected",
			slog.String("client_id", client.ClientID),
			slog.String("username", sess.Username),
		)
		return e.callbackError(req, simerrors.New(simerrors.CodeAccessDenied, "User denied consent"))
	case ConsentGiven:
		if len(pending) > 0 {
			e.store.GrantConsent(sess.Username, client.ClientID, pending)
		}
	default:
		if len(pending) > 0 {
			q := cloneValues(req.Params)
			q.Del("consent")
			q.Set("pending", models.JoinScope(pending))
			return redirect(ConsentPath + "?" + encodeQuery(q))
		}
	}

	ac := &models.AuthorizationCode{
		Code:        e.newCode(),
		ClientID:    client.ClientID,
		Username:    sess.Username,
		Scope:       models.JoinScope(requested),
		RedirectURI: req.RedirectURI,
		ExpiresAt:   e.now().Add(CodeLifetime),
	}
	if req.CodeChallenge != "" {
		if method == "" {
			method = pkce.MethodPlain
		}
		ac.PKCE = &models.PKCEChallenge{Challenge: req.CodeChallenge, Method: method}
	}

	e.store.SaveCode(ac)
	e.metrics.CodeIssued()

	e.logger.InfoContext(ctx, "authorization code issued",
		slog.String("client_id", client.ClientID),
		slog.String("username", sess.Username),
	)

	params := url.Values{"code": {ac.Code}}
	if req.State != "" {
		params.Set("state", req.State)
	}

	out := redirect(appendQuery(req.RedirectURI, params))
	out.Code = ac.Code

	return out
}

func (e *Engine) errorPage(oe *simerrors.OAuthError) Outcome {
	e.fail(faults.EndpointAuthorize, oe)
	return redirect(errorPageURL(oe))
}

func errorPageURL(oe *simerrors.OAuthError) string {
	q := url.Values{"error": {oe.Code}}
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}

	return ErrorPath + "?" + encodeQuery(q)
}

func (e *Engine) callbackError(req AuthorizeRequest, oe *simerrors.OAuthError) Outcome {
	e.fail(faults.EndpointAuthorize, oe)
	return redirect(callbackError(req.RedirectURI, oe, req.State))
}

func callbackError(redirectURI string, oe *simerrors.OAuthError, state string) string {
	q := url.Values{
		"error":             {oe.Code},
		"error_description": {oe.Description},
	}
	if state != "" {
		q.Set("state", state)
	}

	return appendQuery(redirectURI, q)
}

// appendQuery adds params to base, keeping any query base already has.
func appendQuery(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	return base + sep + encodeQuery(params)
}

// encodeQuery encodes spaces as %20 rather than '+'.
func encodeQuery(q url.Values) string {
	return strings.ReplaceAll(q.Encode(), "+", "%20")
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = slices.Clone(v)
	}

	return out
}

func isAbsoluteURL(raw string) bool {
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)

	return err == nil && u.IsAbs() && u.Host != ""
}
