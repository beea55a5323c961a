// Package faults resolves forced errors and artificial delays for protocol
// endpoints. Policies are consulted before any protocol validation runs.
package faults

//go:generate mockgen -source=faults.go -destination=mock_faults.go -package=faults

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
)

// Endpoint paths faults can target.
const (
	EndpointAuthorize  = "/authorize"
	EndpointLogin      = "/login"
	EndpointToken      = "/token"
	EndpointRevoke     = "/revoke"
	EndpointIntrospect = "/introspect"
	EndpointUserinfo   = "/userinfo"
)

// DefaultMaxDelay bounds the ?delay= parameter.
const DefaultMaxDelay = 30 * time.Second

// ErrorPolicy returns the fault to force for endpoint, or nil.
type ErrorPolicy interface {
	ResolveError(endpoint string) *models.Fault
}

// DelayPolicy returns how long to stall endpoint before handling it.
type DelayPolicy interface {
	ResolveDelay(endpoint string) time.Duration
}

// ErrorPolicyFunc adapts a function to ErrorPolicy.
type ErrorPolicyFunc func(endpoint string) *models.Fault

func (f ErrorPolicyFunc) ResolveError(endpoint string) *models.Fault { return f(endpoint) }

// DelayPolicyFunc adapts a function to DelayPolicy.
type DelayPolicyFunc func(endpoint string) time.Duration

func (f DelayPolicyFunc) ResolveDelay(endpoint string) time.Duration { return f(endpoint) }

// First returns the fault of the first policy that yields one. Nil
// policies are skipped.
func First(policies ...ErrorPolicy) ErrorPolicy {
	return ErrorPolicyFunc(func(endpoint string) *models.Fault {
		for _, p := range policies {
			if p == nil {
				continue
			}
			if f := p.ResolveError(endpoint); f != nil {
				return f
			}
		}

		return nil
	})
}

// Longest returns the largest delay of all policies. Nil policies are
// skipped.
func Longest(policies ...DelayPolicy) DelayPolicy {
	return DelayPolicyFunc(func(endpoint string) time.Duration {
		var longest time.Duration
		for _, p := range policies {
			if p == nil {
				continue
			}
			longest = max(longest, p.ResolveDelay(endpoint))
		}

		return longest
	})
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Store-backed policy ---

// StorePolicy serves faults and delays configured through the admin API.
type StorePolicy struct {
	store *store.Store
}

func NewStorePolicy(s *store.Store) *StorePolicy {
	return &StorePolicy{store: s}
}

// ResolveError returns the simulation for endpoint, or the "all" entry.
func (p *StorePolicy) ResolveError(endpoint string) *models.Fault {
	f, ok := p.store.ErrorSimulation(endpoint)
	if !ok || f.Error == "" {
		return nil
	}

	if f.Status == 0 {
		f.Status = simerrors.StatusFor(f.Error)
	}

	return &f
}

// ResolveDelay returns the delay for endpoint, or the "all" entry.
func (p *StorePolicy) ResolveDelay(endpoint string) time.Duration {
	d, _ := p.store.DelaySimulation(endpoint)
	return d
}

// --- Request-backed policy ---

// allowedErrors lists the codes a request may force per endpoint.
var allowedErrors = map[string][]string{
	EndpointAuthorize: {
		simerrors.CodeInvalidRequest,
		simerrors.CodeUnauthorizedClient,
		simerrors.CodeAccessDenied,
		simerrors.CodeUnsupportedResponseType,
		simerrors.CodeInvalidScope,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
	EndpointLogin: {
		simerrors.CodeAccessDenied,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
	EndpointToken: {
		simerrors.CodeInvalidRequest,
		simerrors.CodeInvalidClient,
		simerrors.CodeInvalidGrant,
		simerrors.CodeUnauthorizedClient,
		simerrors.CodeUnsupportedGrantType,
		simerrors.CodeInvalidScope,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
	EndpointRevoke: {
		simerrors.CodeUnsupportedTokenType,
		simerrors.CodeInvalidRequest,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
	EndpointIntrospect: {
		simerrors.CodeInvalidRequest,
		simerrors.CodeInvalidClient,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
	EndpointUserinfo: {
		simerrors.CodeInvalidRequest,
		simerrors.CodeInvalidToken,
		simerrors.CodeInsufficientScope,
		simerrors.CodeServerError,
		simerrors.CodeTemporarilyUnavailable,
	},
}

// Allowed reports whether code may be forced on endpoint by a request.
func Allowed(endpoint, code string) bool {
	return slices.Contains(allowedErrors[endpoint], code)
}

// RequestPolicy serves faults and delays carried in request parameters:
// force_error and error_description (authorize_force_error and
// authorize_error_description on /authorize), and delay in milliseconds.
type RequestPolicy struct {
	params   url.Values
	maxDelay time.Duration
}

// NewRequestPolicy builds a policy over params. A non-positive maxDelay
// uses DefaultMaxDelay.
func NewRequestPolicy(params url.Values, maxDelay time.Duration) *RequestPolicy {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	return &RequestPolicy{params: params, maxDelay: maxDelay}
}

// ResolveError returns the forced error if it is allowed on endpoint.
func (p *RequestPolicy) ResolveError(endpoint string) *models.Fault {
	codeKey, descKey := "force_error", "error_description"
	if endpoint == EndpointAuthorize {
		codeKey, descKey = "authorize_force_error", "authorize_error_description"
	}

	code := p.params.Get(codeKey)
	if code == "" || !Allowed(endpoint, code) {
		return nil
	}

	return &models.Fault{
		Status:           simerrors.StatusFor(code),
		Error:            code,
		ErrorDescription: p.params.Get(descKey),
	}
}

// ResolveDelay returns the delay parameter when it is positive and below
// the maximum.
func (p *RequestPolicy) ResolveDelay(string) time.Duration {
	ms, err := strconv.Atoi(p.params.Get("delay"))
	if err != nil || ms <= 0 {
		return 0
	}

	d := time.Duration(ms) * time.Millisecond
	if d >= p.maxDelay {
		return 0
	}

	return d
}
