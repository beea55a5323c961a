// Package server provides the HTTP surface of the simulator: the protocol
// endpoints, the login and consent pages, and the /sim admin API.
package server

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/metrics"
	"github.com/alexjbarnes/oauth-flow-sim/internal/oauth"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store   *store.Store
	Engine  *oauth.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	SessionCookie string
	SecureCookies bool

	// MaxDelay caps injected delays. Zero uses faults.DefaultMaxDelay.
	MaxDelay time.Duration

	EnableSimAPI  bool
	EnableMetrics bool
}

// gate holds what every protocol endpoint needs before reaching the
// engine: fault delays and client authentication.
type gate struct {
	store    *store.Store
	engine   *oauth.Engine
	metrics  *metrics.Metrics
	logger   *slog.Logger
	maxDelay time.Duration
}

type server struct {
	*gate

	cookieName   string
	secureCookie bool
}

// NewMux builds the HTTP handler with the protocol endpoints, the pages,
// and optionally the /sim admin API and /metrics. Every request passes
// through the access log and metrics middleware.
func NewMux(cfg MuxConfig) http.Handler {
	s := &server{
		gate: &gate{
			store:    cfg.Store,
			engine:   cfg.Engine,
			metrics:  cfg.Metrics,
			logger:   cfg.Logger,
			maxDelay: cfg.MaxDelay,
		},
		cookieName:   cfg.SessionCookie,
		secureCookie: cfg.SecureCookies,
	}

	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.cookieName == "" {
		s.cookieName = "oauthsim.sid"
	}
	if s.maxDelay <= 0 {
		s.maxDelay = faults.DefaultMaxDelay
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", handleAuthorize(s.gate, s.session))
	mux.HandleFunc("POST /token", handleToken(s.gate))
	mux.HandleFunc("POST /introspect", handleIntrospect(s.gate))
	mux.HandleFunc("POST /revoke", handleRevoke(s.gate))
	mux.HandleFunc("GET /userinfo", handleUserinfo(s.gate))
	mux.HandleFunc("POST /userinfo", handleUserinfo(s.gate))
	mux.HandleFunc("GET /jwks", handleJWKS(cfg.Store))
	mux.HandleFunc("GET /.well-known/openid-configuration", handleDiscovery(cfg.Store))

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLoginSubmit)
	mux.HandleFunc("GET /consent", s.handleConsentPage)
	mux.HandleFunc("POST /consent", s.handleConsentSubmit)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("GET /loggedout", s.handleLoggedOut)
	mux.HandleFunc("GET /error", s.handleErrorPage)
	mux.HandleFunc("GET /{$}", s.handleWelcome)

	if cfg.EnableSimAPI {
		s.registerSim(mux)
	}

	if cfg.EnableMetrics && cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return requestLogger(s.logger, cfg.Metrics.Middleware(mux))
}

// requestLogger logs one line per request with its status and duration.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	body := map[string]string{"error": errCode}
	if description != "" {
		body["error_description"] = description
	}

	writeJSON(w, status, body)
}

// writeOAuthError writes err as an OAuth JSON error. Non-OAuth errors
// become server_error.
func writeOAuthError(w http.ResponseWriter, err error) {
	oe := simerrors.As(err)

	switch oe.Code {
	case simerrors.CodeInvalidClient:
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth-flow-sim"`)
	case simerrors.CodeInvalidToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case simerrors.CodeInsufficientScope:
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	}

	writeJSONError(w, oe.Status, oe.Code, oe.Description)
}

// requestHost returns the scheme and host the request was addressed to.
func requestHost(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	return scheme + "://" + host
}

// acceptsHTML reports whether the user agent can render the login page.
// Clients that only accept JSON are treated as non-browser; a missing
// Accept header counts as a browser.
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}

	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mt != "application/json" && !strings.HasSuffix(mt, "+json") {
			return true
		}
	}

	return false
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")

	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
