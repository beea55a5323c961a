package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alexjbarnes/oauth-flow-sim/internal/metrics"
	"github.com/alexjbarnes/oauth-flow-sim/internal/oauth"
	"github.com/alexjbarnes/oauth-flow-sim/internal/seed"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testClientID    = "web-app"
	testSecret      = "shhh"
	testRedirectURI = "http://localhost:3000/callback"
	jwtSecret       = "dev_secret"
)

var (
	seedOnce sync.Once
	seedDoc  seed.Document
	seedErr  error
)

type testEnv struct {
	srv     *httptest.Server
	store   *store.Store
	metrics *metrics.Metrics
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	seedOnce.Do(func() {
		seedDoc, seedErr = seed.Default()
	})
	require.NoError(t, seedErr)

	s := store.New()
	require.NoError(t, seed.Apply(s, seedDoc))

	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()

	engine := oauth.NewEngine(oauth.Config{
		Store:   s,
		Secret:  []byte(jwtSecret),
		Metrics: m,
		Logger:  logger,
	})

	srv := httptest.NewServer(NewMux(MuxConfig{
		Store:         s,
		Engine:        engine,
		Metrics:       m,
		Logger:        logger,
		EnableSimAPI:  true,
		EnableMetrics: true,
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		srv:     srv,
		store:   s,
		metrics: m,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) url(path string) string {
	return e.srv.URL + path
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, e.url(path), nil)
	require.NoError(t, err)
	return e.do(t, req)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.url(path), strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

// postClientForm posts form with the test client's Basic credentials.
func (e *testEnv) postClientForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.url(path), strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testSecret)
	return e.do(t, req)
}

func (e *testEnv) sendJSON(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(t.Context(), method, e.url(path), strings.NewReader(string(b)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// authorizeQuery is a valid authorization request for the seeded client.
func authorizeQuery(scope string) url.Values {
	return url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {scope},
		"state":         {"xyz"},
	}
}

// location parses the Location header of a redirect.
func location(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return u
}

// login signs alice in through the login form.
func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.postForm(t, "/login", url.Values{
		"username": {"alice"},
		"password": {"pw123"},
		"query":    {authorizeQuery("openid").Encode()},
	})
	require.Equal(t, "/authorize", location(t, resp).Path)
}

// authorize runs /authorize for a logged-in session and returns the code.
func (e *testEnv) authorize(t *testing.T, scope string) string {
	t.Helper()
	resp := e.get(t, "/authorize?"+authorizeQuery(scope).Encode())
	loc := location(t, resp)
	require.Equal(t, testRedirectURI, loc.Scheme+"://"+loc.Host+loc.Path, "unexpected redirect %s", loc)
	require.Empty(t, loc.Query().Get("error"))
	require.Equal(t, "xyz", loc.Query().Get("state"))
	require.NotEmpty(t, loc.Query().Get("code"))
	return loc.Query().Get("code")
}

func (e *testEnv) exchange(t *testing.T, code string) *http.Response {
	t.Helper()
	return e.postClientForm(t, "/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	})
}
