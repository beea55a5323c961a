// Package oauth implements the authorization server protocol: the
// /authorize state machine, the token grants, introspection, revocation
// and userinfo. It works on a store.Store and knows nothing about HTTP
// beyond the status codes carried by its errors.
package oauth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/faults"
	"github.com/alexjbarnes/oauth-flow-sim/internal/metrics"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"github.com/google/uuid"
)

const (
	CodeLifetime                = 10 * time.Minute
	AccessTokenLifetime         = time.Hour
	DefaultRefreshTokenLifetime = 7 * 24 * time.Hour
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"

	ScopeOfflineAccess = "offline_access"
)

// Config wires an Engine.
type Config struct {
	Store *store.Store

	// Errors is consulted on every protocol endpoint. Requests may add
	// their own policy, which is tried first.
	Errors faults.ErrorPolicy

	// Secret signs and verifies HS256 tokens.
	Secret []byte

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now and NewCode default to time.Now and random UUIDs.
	Now     func() time.Time
	NewCode func() string
}

// Engine runs the protocol against a Store. It is safe for concurrent use.
type Engine struct {
	store   *store.Store
	errors  faults.ErrorPolicy
	secret  []byte
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newCode func() string
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:   cfg.Store,
		errors:  cfg.Errors,
		secret:  cfg.Secret,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
		newCode: cfg.NewCode,
	}

	if e.errors == nil {
		e.errors = faults.NewStorePolicy(cfg.Store)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newCode == nil {
		e.newCode = uuid.NewString
	}

	return e
}

// Session is the logged-in user behind an authorization request.
type Session struct {
	Username string
	Scopes   []string
}

// AuthenticateClient checks client credentials.
func (e *Engine) AuthenticateClient(clientID, clientSecret string) (models.Client, error) {
	c, ok := e.store.Client(clientID)
	if !ok || clientID == "" {
		return models.Client{}, simerrors.InvalidClient("Invalid client credentials")
	}

	if subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(clientSecret)) != 1 {
		return models.Client{}, simerrors.InvalidClient("Invalid client credentials")
	}

	return c, nil
}

// forcedError resolves the fault for endpoint, request overrides first.
func (e *Engine) forcedError(ctx context.Context, endpoint string, override faults.ErrorPolicy) *simerrors.OAuthError {
	f := faults.First(override, e.errors).ResolveError(endpoint)
	if f == nil {
		return nil
	}

	e.metrics.FaultInjected(endpoint, "error")
	e.logger.InfoContext(ctx, "forced error",
		slog.String("endpoint", endpoint),
		slog.String("error", f.Error),
	)

	return simerrors.WithStatus(f.Status, f.Error, f.ErrorDescription)
}

// fail records an OAuth error for endpoint and returns it.
func (e *Engine) fail(endpoint string, oe *simerrors.OAuthError) *simerrors.OAuthError {
	e.metrics.OAuthError(endpoint, oe.Code)
	return oe
}
