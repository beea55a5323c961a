package faults

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// --- Request policy ---

func TestRequestPolicy_ForceError(t *testing.T) {
	p := NewRequestPolicy(url.Values{
		"force_error":       {"invalid_grant"},
		"error_description": {"simulated"},
	}, 0)

	f := p.ResolveError(EndpointToken)
	require.NotNil(t, f)
	assert.Equal(t, "invalid_grant", f.Error)
	assert.Equal(t, "simulated", f.ErrorDescription)
	assert.Equal(t, http.StatusBadRequest, f.Status)
}

func TestRequestPolicy_AllowListPerEndpoint(t *testing.T) {
	p := NewRequestPolicy(url.Values{"force_error": {"invalid_grant"}}, 0)
	assert.Nil(t, p.ResolveError(EndpointRevoke))
	assert.Nil(t, p.ResolveError(EndpointUserinfo))

	p = NewRequestPolicy(url.Values{"force_error": {"made_up"}}, 0)
	assert.Nil(t, p.ResolveError(EndpointToken))

	p = NewRequestPolicy(url.Values{"force_error": {"invalid_token"}}, 0)
	f := p.ResolveError(EndpointUserinfo)
	require.NotNil(t, f)
	assert.Equal(t, http.StatusUnauthorized, f.Status)
}

func TestRequestPolicy_AuthorizeUsesPrefixedParams(t *testing.T) {
	p := NewRequestPolicy(url.Values{"force_error": {"access_denied"}}, 0)
	assert.Nil(t, p.ResolveError(EndpointAuthorize))

	p = NewRequestPolicy(url.Values{
		"authorize_force_error":       {"access_denied"},
		"authorize_error_description": {"nope"},
	}, 0)
	f := p.ResolveError(EndpointAuthorize)
	require.NotNil(t, f)
	assert.Equal(t, "access_denied", f.Error)
	assert.Equal(t, "nope", f.ErrorDescription)
}

func TestRequestPolicy_Delay(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"abc", 0},
		{"-5", 0},
		{"0", 0},
		{"250", 250 * time.Millisecond},
		{"29999", 29999 * time.Millisecond},
		{"30000", 0},
	}
	for _, tt := range tests {
		p := NewRequestPolicy(url.Values{"delay": {tt.raw}}, 0)
		assert.Equal(t, tt.want, p.ResolveDelay(EndpointToken), tt.raw)
	}
}

// --- Store policy ---

func TestStorePolicy(t *testing.T) {
	s := store.New()
	p := NewStorePolicy(s)
	assert.Nil(t, p.ResolveError(EndpointToken))
	assert.Zero(t, p.ResolveDelay(EndpointToken))

	s.SetErrorSimulation(store.AllTargets, models.Fault{Error: "temporarily_unavailable"})
	s.SetDelaySimulation(EndpointToken, 10*time.Millisecond)

	f := p.ResolveError(EndpointIntrospect)
	require.NotNil(t, f)
	assert.Equal(t, http.StatusServiceUnavailable, f.Status)
	assert.Equal(t, 10*time.Millisecond, p.ResolveDelay(EndpointToken))
	assert.Zero(t, p.ResolveDelay(EndpointAuthorize))
}

// --- Composition ---

func TestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := NewMockErrorPolicy(ctrl)
	b := NewMockErrorPolicy(ctrl)

	want := &models.Fault{Status: 500, Error: "server_error"}
	a.EXPECT().ResolveError(EndpointToken).Return(nil)
	b.EXPECT().ResolveError(EndpointToken).Return(want)

	assert.Same(t, want, First(a, nil, b).ResolveError(EndpointToken))
}

func TestFirst_ShortCircuits(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := NewMockErrorPolicy(ctrl)
	b := NewMockErrorPolicy(ctrl)

	a.EXPECT().ResolveError(EndpointToken).Return(&models.Fault{Error: "invalid_grant"})
	b.EXPECT().ResolveError(gomock.Any()).Times(0)

	assert.Equal(t, "invalid_grant", First(a, b).ResolveError(EndpointToken).Error)
}

func TestLongest(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := NewMockDelayPolicy(ctrl)
	b := NewMockDelayPolicy(ctrl)

	a.EXPECT().ResolveDelay(EndpointToken).Return(20 * time.Millisecond)
	b.EXPECT().ResolveDelay(EndpointToken).Return(5 * time.Millisecond)

	assert.Equal(t, 20*time.Millisecond, Longest(a, nil, b).ResolveDelay(EndpointToken))
}

// --- Sleep ---

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Elapses(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.NoError(t, Sleep(context.Background(), 0))
}
