package oauth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/url"

	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
)

// AuthorizePath is where a successful login re-enters the flow.
const AuthorizePath = "/authorize"

// MsgInvalidCredentials is shown on the login page after a failed attempt.
const MsgInvalidCredentials = "Invalid username or password"

// LoginRequest is a submitted login form. Params is the authorization
// request the login page was reached from.
type LoginRequest struct {
	Username string
	Password string
	Params   url.Values

	Faults faults.ErrorPolicy
}

// Login checks the submitted credentials. On success it creates a session
// and redirects back to /authorize with the original parameters. On
// failure it redirects back to the login page with an error.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (Outcome, *store.Session) {
	params := cloneValues(req.Params)
	params.Del("error")

	if oe := e.forcedError(ctx, faults.EndpointLogin, req.Faults); oe != nil {
		e.fail(faults.EndpointLogin, oe)

		if redirectURI := params.Get("redirect_uri"); isAbsoluteURL(redirectURI) {
			return redirect(callbackError(redirectURI, oe, params.Get("state"))), nil
		}

		return redirect(errorPageURL(oe)), nil
	}

	user, ok := e.store.User(req.Username)
	if !ok || req.Username == "" || subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) != 1 {
		e.logger.InfoContext(ctx, "login failed", slog.String("username", req.Username))

		q := cloneValues(params)
		q.Set("error", MsgInvalidCredentials)

		return redirect(LoginPath + "?" + encodeQuery(q)), nil
	}

	sess := e.store.CreateSession(user.Username, nil)

	e.logger.InfoContext(ctx, "login succeeded", slog.String("username", user.Username))

	return redirect(AuthorizePath + "?" + encodeQuery(params)), &sess
}

// SessionFor resolves a session id to the user it belongs to. Sessions
// whose user has since been deleted are treated as absent.
func (e *Engine) SessionFor(id string) *Session {
	sess, ok := e.store.Session(id)
	if !ok {
		return nil
	}

	if _, ok := e.store.User(sess.Username); !ok {
		return nil
	}

	return &Session{Username: sess.Username, Scopes: sess.Scopes}
}

// Logout ends a session. Unknown ids are ignored.
func (e *Engine) Logout(ctx context.Context, id string) {
	if id == "" {
		return
	}

	e.store.DeleteSession(id)
	e.logger.DebugContext(ctx, "session ended")
}

// ConsentParams rebuilds the authorization request parameters for a
// consent decision: the pending list is dropped and the decision added.
func ConsentParams(params url.Values, accepted bool) url.Values {
	q := cloneValues(params)
	q.Del("pending")

	if accepted {
		q.Set("consent", ConsentGiven)
	} else {
		q.Set("consent", ConsentRejected)
	}

	return q
}

// ResumeURL is the /authorize URL for params.
func ResumeURL(params url.Values) string {
	return AuthorizePath + "?" + encodeQuery(params)
}
