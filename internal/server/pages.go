package server

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/oauth"
)

// pages holds the HTML views. Every view is rendered inside "layout".
var pages = template.Must(template.New("layout").Parse(`{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>oauth-flow-sim</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 420px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 { font-size: 1.25rem; font-weight: 600; margin-bottom: 0.25rem; }
  .card p.sub { font-size: 0.85rem; color: #666; margin-bottom: 1.5rem; }
  .scopes { list-style: none; margin-bottom: 1rem; font-size: 0.85rem; }
  .scopes li { padding: 0.4rem 0; border-bottom: 1px solid #eee; }
  .scopes li span { color: #666; display: block; }
  .error {
    background: #fef2f2;
    color: #991b1b;
    border: 1px solid #fecaca;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
  }
  label { display: block; font-size: 0.85rem; font-weight: 500; margin-bottom: 0.35rem; color: #333; }
  input[type="text"], input[type="password"] {
    width: 100%;
    padding: 0.55rem 0.7rem;
    border: 1px solid #d0d0d0;
    border-radius: 6px;
    font-size: 0.9rem;
    margin-bottom: 1rem;
  }
  button {
    width: 100%;
    padding: 0.6rem;
    background: #1a1a1a;
    color: #fff;
    border: none;
    border-radius: 6px;
    font-size: 0.9rem;
    font-weight: 500;
    cursor: pointer;
    margin-bottom: 0.5rem;
  }
  button.secondary { background: #fff; color: #1a1a1a; border: 1px solid #d0d0d0; }
  code { font-size: 0.8rem; }
</style>
</head>
<body>
<div class="card">
{{template "content" .}}
</div>
</body>
</html>{{end}}`))

var loginPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
  <h1>Sign in</h1>
  <p class="sub">{{if .ClientID}}<strong>{{.ClientID}}</strong> is requesting access.{{else}}Sign in to continue.{{end}}</p>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  <form method="POST" action="/login">
    <input type="hidden" name="query" value="{{.Query}}">
    <label for="username">Username</label>
    <input type="text" id="username" name="username" autocomplete="username" required autofocus>
    <label for="password">Password</label>
    <input type="password" id="password" name="password" autocomplete="current-password" required>
    <button type="submit">Sign in</button>
  </form>
{{end}}`))

var consentPage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
  <h1>Authorize {{.ClientID}}</h1>
  <p class="sub">Signed in as <strong>{{.Username}}</strong>. The application is requesting:</p>
  <ul class="scopes">
  {{range .Scopes}}<li><code>{{.Name}}</code>{{if .Description}}<span>{{.Description}}</span>{{end}}</li>
  {{end}}</ul>
  <form method="POST" action="/consent">
    <input type="hidden" name="query" value="{{.Query}}">
    <button type="submit" name="action" value="accept">Allow</button>
    <button type="submit" name="action" value="reject" class="secondary">Deny</button>
  </form>
{{end}}`))

var messagePage = template.Must(template.Must(pages.Clone()).Parse(`{{define "content"}}
  <h1>{{.Title}}</h1>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  {{if .Message}}<p class="sub">{{.Message}}</p>{{end}}
  {{if .Links}}<ul class="scopes">{{range .Links}}<li><code>{{.}}</code></li>{{end}}</ul>{{end}}
{{end}}`))

type loginData struct {
	ClientID string
	Query    string
	Error    string
}

type consentData struct {
	ClientID string
	Username string
	Scopes   []models.Scope
	Query    string
}

type messageData struct {
	Title   string
	Message string
	Error   string
	Links   []string
}

func (s *server) render(w http.ResponseWriter, r *http.Request, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		s.logger.ErrorContext(r.Context(), "rendering page", slog.String("error", err.Error()))
	}
}

func (s *server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg := q.Get("error")
	q.Del("error")

	s.render(w, r, http.StatusOK, loginPage, loginData{
		ClientID: q.Get("client_id"),
		Query:    q.Encode(),
		Error:    msg,
	})
}

// flowParams returns the authorization request a login or consent
// submission belongs to: the query or original_query body field, else the
// URL query.
func flowParams(r *http.Request, body url.Values) (url.Values, error) {
	for _, key := range []string{"query", "original_query"} {
		if raw := body.Get(key); raw != "" {
			return url.ParseQuery(strings.TrimPrefix(raw, "?"))
		}
	}

	return r.URL.Query(), nil
}

func (s *server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := requestParams(w, r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	params, err := flowParams(r, body)
	if err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}

	if !s.delay(r, faults.EndpointLogin, params) {
		return
	}

	out, sess := s.engine.Login(r.Context(), oauth.LoginRequest{
		Username: body.Get("username"),
		Password: body.Get("password"),
		Params:   params,
		Faults:   faults.NewRequestPolicy(params, s.maxDelay),
	})

	if sess != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, out.Location, http.StatusFound)
}

func (s *server) handleConsentPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sess := s.session(r)
	if sess == nil {
		http.Redirect(w, r, oauth.LoginPath+"?"+q.Encode(), http.StatusFound)
		return
	}

	client, ok := s.store.Client(q.Get("client_id"))
	if !ok {
		s.render(w, r, http.StatusBadRequest, messagePage, messageData{Title: "Error", Error: "Unknown client"})
		return
	}

	var scopes []models.Scope
	for _, name := range models.SplitScope(q.Get("pending")) {
		if sc, ok := client.Scope(name); ok {
			scopes = append(scopes, sc)
		}
	}

	s.render(w, r, http.StatusOK, consentPage, consentData{
		ClientID: client.ClientID,
		Username: sess.Username,
		Scopes:   scopes,
		Query:    q.Encode(),
	})
}

// consentFields are the authorization parameters a consent submission may
// carry directly in its body.
var consentFields = []string{
	"response_type", "client_id", "redirect_uri", "scope", "state",
	"code_challenge", "code_challenge_method",
}

func (s *server) handleConsentSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := requestParams(w, r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	params, err := flowParams(r, body)
	if err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}
	for _, key := range consentFields {
		if v := body.Get(key); v != "" {
			params.Set(key, v)
		}
	}

	var accepted bool
	switch body.Get("action") {
	case "accept":
		accepted = true
	case "reject":
	default:
		http.Error(w, "action must be accept or reject", http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, oauth.ResumeURL(oauth.ConsentParams(params, accepted)), http.StatusFound)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.cookieName); err == nil {
		s.engine.Logout(r.Context(), c.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/loggedout", http.StatusFound)
}

func (s *server) handleLoggedOut(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, messagePage, messageData{
		Title:   "Signed out",
		Message: "Your session has ended.",
	})
}

func (s *server) handleErrorPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	msg := q.Get("error_description")
	if msg == "" {
		msg = q.Get("error")
	}
	if msg == "" {
		msg = "Unknown error"
	}

	s.render(w, r, http.StatusBadRequest, messagePage, messageData{Title: "Authorization error", Error: msg})
}

func (s *server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	host := requestHost(r)

	s.render(w, r, http.StatusOK, messagePage, messageData{
		Title:   "oauth-flow-sim",
		Message: "OAuth 2.0 / OpenID Connect authorization server simulator.",
		Links: []string{
			host + "/.well-known/openid-configuration",
			host + "/authorize",
			host + "/token",
			host + "/introspect",
			host + "/revoke",
			host + "/userinfo",
			host + "/jwks",
		},
	})
}
