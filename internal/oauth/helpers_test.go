package oauth

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/seed"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "web-app"
	testSecret      = "shhh"
	testRedirectURI = "http://localhost:3000/callback"
	testHost        = "http://localhost:4000"
)

var (
	seedOnce sync.Once
	seedDoc  seed.Document
	seedErr  error
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	seedOnce.Do(func() {
		seedDoc, seedErr = seed.Default()
	})
	require.NoError(t, seedErr)

	s := store.New()
	require.NoError(t, seed.Apply(s, seedDoc))

	return s
}

func testEngine(t *testing.T) (*Engine, *store.Store, *clock) {
	t.Helper()
	s := testStore(t)
	c := &clock{now: time.Now()}

	e := NewEngine(Config{
		Store:  s,
		Secret: []byte("dev_secret"),
		Now:    c.Now,
	})

	return e, s, c
}

func testClient(t *testing.T, s *store.Store) models.Client {
	t.Helper()
	c, ok := s.Client(testClientID)
	require.True(t, ok)
	return c
}

func authorizeRequest(scope string) AuthorizeRequest {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {scope},
		"state":         {"xyz"},
	}
	return ParseAuthorizeRequest(q)
}

var alice = &Session{Username: "alice"}

// parseLocation splits a redirect into its path and query.
func parseLocation(t *testing.T, location string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	base := u.Scheme + "://" + u.Host + u.Path
	if u.Scheme == "" {
		base = u.Path
	}
	return base, u.Query()
}

// issueCode runs a successful authorization and returns the code.
func issueCode(t *testing.T, e *Engine, req AuthorizeRequest) string {
	t.Helper()
	out := e.Authorize(t.Context(), req, alice)
	require.True(t, out.IsRedirect(), "expected redirect, got %+v", out)
	_, q := parseLocation(t, out.Location)
	require.Empty(t, q.Get("error"), "authorize failed: %s", out.Location)
	require.NotEmpty(t, q.Get("code"))
	return q.Get("code")
}

func exchange(code string) TokenRequest {
	return TokenRequest{
		GrantType:   GrantAuthorizationCode,
		Code:        code,
		RedirectURI: testRedirectURI,
		Host:        testHost,
	}
}
