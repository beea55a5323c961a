// Package store holds all simulator state in memory. A single Store is
// built at process start and shared by the protocol engine and the HTTP
// handlers. Nothing is persisted; state is lost on restart.
//
// Expired codes and tokens are never swept in the background. They are
// rejected (and purged) when touched and otherwise accumulate until the
// process restarts.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"slices"
	"sync"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
)

// Store holds all in-memory simulator state. Every check-then-mutate
// sequence runs under mu so single-use and rotate-once guarantees hold
// with concurrent handlers.
type Store struct {
	mu sync.RWMutex

	clients map[string]models.Client
	users   map[string]models.User

	codes         map[string]*models.AuthorizationCode // code -> AuthorizationCode
	accessTokens  map[string]*models.AccessToken       // token -> snapshot
	refreshTokens map[string]*models.RefreshToken      // token -> metadata

	// consent maps username -> client_id -> granted scope set.
	consent map[string]map[string]map[string]struct{}

	keys          []models.SigningKey
	activeKid     string
	signingConfig models.SigningConfig

	claimConfig    models.ClaimConfig
	userinfoScopes models.UserinfoScopes
	discovery      map[string]any

	errorSims map[string]models.Fault
	delaySims map[string]time.Duration

	sessions map[string]Session
}

// Session is a logged-in browser session.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Scopes    []string  `json:"scopes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates an empty store with asymmetric signing disabled and the
// kid header enabled.
func New() *Store {
	return &Store{
		clients:        make(map[string]models.Client),
		users:          make(map[string]models.User),
		codes:          make(map[string]*models.AuthorizationCode),
		accessTokens:   make(map[string]*models.AccessToken),
		refreshTokens:  make(map[string]*models.RefreshToken),
		consent:        make(map[string]map[string]map[string]struct{}),
		signingConfig:  models.SigningConfig{IncludeJWTKid: true},
		claimConfig:    emptyClaimConfig(),
		userinfoScopes: emptyUserinfoScopes(),
		discovery:      make(map[string]any),
		errorSims:      make(map[string]models.Fault),
		delaySims:      make(map[string]time.Duration),
		sessions:       make(map[string]Session),
	}
}

func emptyClaimConfig() models.ClaimConfig {
	return models.ClaimConfig{
		Globals: map[string]any{},
		Clients: map[string]map[string]any{},
		Users:   map[string]map[string]any{},
	}
}

func emptyUserinfoScopes() models.UserinfoScopes {
	return models.UserinfoScopes{
		Globals: map[string][]string{},
		Clients: map[string]map[string][]string{},
		Users:   map[string]map[string][]string{},
	}
}

// Reset clears codes, tokens, consent and sessions. Clients, users, keys
// and configuration are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.codes)
	clear(s.accessTokens)
	clear(s.refreshTokens)
	clear(s.consent)
	clear(s.sessions)
}

// --- Clients ---

func cloneClient(c models.Client) models.Client {
	c.RedirectURIs = slices.Clone(c.RedirectURIs)
	c.Scopes = slices.Clone(c.Scopes)

	return c
}

// Client returns a copy of the client with the given id.
func (s *Store) Client(clientID string) (models.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return models.Client{}, false
	}

	return cloneClient(c), true
}

// Clients returns all clients ordered by id.
func (s *Store) Clients() []models.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Client, 0, len(s.clients))
	for _, id := range slices.Sorted(maps.Keys(s.clients)) {
		out = append(out, cloneClient(s.clients[id]))
	}

	return out
}

// AddClient registers a new client. The client id must be unique.
func (s *Store) AddClient(c models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[c.ClientID]; exists {
		return simerrors.ErrClientExists
	}

	s.clients[c.ClientID] = cloneClient(c)

	return nil
}

// PutClient creates or replaces a client.
func (s *Store) PutClient(c models.Client) {
	s.mu.Lock()
	s.clients[c.ClientID] = cloneClient(c)
	s.mu.Unlock()
}

// DeleteClient removes a client.
func (s *Store) DeleteClient(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return simerrors.ErrClientNotFound
	}

	delete(s.clients, clientID)

	return nil
}

// --- Users ---

func cloneUser(u models.User) models.User {
	u.Claims = maps.Clone(u.Claims)
	return u
}

// User returns a copy of the user with the given username.
func (s *Store) User(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return models.User{}, false
	}

	return cloneUser(u), true
}

// Users returns all users ordered by username.
func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(s.users))
	for _, name := range slices.Sorted(maps.Keys(s.users)) {
		out = append(out, cloneUser(s.users[name]))
	}

	return out
}

// AddUser registers a new user. The username must be unique.
func (s *Store) AddUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return simerrors.ErrUserExists
	}

	s.users[u.Username] = cloneUser(u)

	return nil
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	s.users[u.Username] = cloneUser(u)
	s.mu.Unlock()
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return simerrors.ErrUserNotFound
	}

	delete(s.users, username)

	return nil
}

// --- Authorization codes ---

// SaveCode stores an authorization code.
func (s *Store) SaveCode(ac *models.AuthorizationCode) {
	s.mu.Lock()
	s.codes[ac.Code] = ac
	s.mu.Unlock()
}

// ConsumeCode redeems an authorization code in one critical section.
// An expired code is deleted and ErrExpired returned. Otherwise check is
// called with the stored code; when it returns nil the code is deleted
// and returned, when it returns an error the code is left in place and
// the error is returned.
func (s *Store) ConsumeCode(code string, now time.Time, check func(*models.AuthorizationCode) error) (*models.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok {
		return nil, simerrors.ErrTokenNotFound
	}

	if now.After(ac.ExpiresAt) {
		delete(s.codes, code)
		return nil, simerrors.ErrExpired
	}

	if check != nil {
		if err := check(ac); err != nil {
			return nil, err
		}
	}

	delete(s.codes, code)

	return ac, nil
}

// --- Access tokens ---

// SaveAccessToken stores an access token snapshot keyed by its token string.
func (s *Store) SaveAccessToken(at *models.AccessToken) {
	s.mu.Lock()
	s.accessTokens[at.Token] = at
	s.mu.Unlock()
}

// AccessToken returns the stored snapshot for token.
func (s *Store) AccessToken(token string) (*models.AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]

	return at, ok
}

// RevokeAccessToken deletes token if it exists and was issued to
// clientID. It reports whether the token was found, regardless of owner.
func (s *Store) RevokeAccessToken(token, clientID string) (found bool, revoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return false, false
	}

	if at.ClientID != clientID {
		return true, false
	}

	delete(s.accessTokens, token)

	return true, true
}

// --- Refresh tokens ---

// SaveRefreshToken stores refresh token metadata keyed by its token string.
func (s *Store) SaveRefreshToken(rt *models.RefreshToken) {
	s.mu.Lock()
	s.refreshTokens[rt.Token] = rt
	s.mu.Unlock()
}

// RefreshToken returns the stored metadata for token.
func (s *Store) RefreshToken(token string) (*models.RefreshToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[token]

	return rt, ok
}

// TakeRefreshToken removes and returns a refresh token for rotation. The
// token must exist with a username and belong to clientID. An expired
// token is purged and ErrExpired returned.
func (s *Store) TakeRefreshToken(token, clientID string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok || rt.Username == "" {
		return nil, simerrors.ErrTokenNotFound
	}

	if rt.ClientID != clientID {
		return nil, simerrors.ErrClientMismatch
	}

	delete(s.refreshTokens, token)

	if rt.Expired(now) {
		return nil, simerrors.ErrExpired
	}

	return rt, nil
}

// RevokeRefreshToken deletes token if it exists and was issued to
// clientID. It reports whether the token was found, regardless of owner.
func (s *Store) RevokeRefreshToken(token, clientID string) (found bool, revoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return false, false
	}

	if rt.ClientID != clientID {
		return true, false
	}

	delete(s.refreshTokens, token)

	return true, true
}

// Snapshot is a point-in-time copy of issued credentials.
type Snapshot struct {
	AuthCodes     map[string]models.AuthorizationCode `json:"authCodes"`
	Tokens        map[string]models.AccessToken       `json:"tokens"`
	RefreshTokens map[string]models.RefreshToken      `json:"refreshTokens"`
}

// Snapshot copies all codes and tokens.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		AuthCodes:     make(map[string]models.AuthorizationCode, len(s.codes)),
		Tokens:        make(map[string]models.AccessToken, len(s.accessTokens)),
		RefreshTokens: make(map[string]models.RefreshToken, len(s.refreshTokens)),
	}
	for k, v := range s.codes {
		snap.AuthCodes[k] = *v
	}
	for k, v := range s.accessTokens {
		snap.Tokens[k] = *v
	}
	for k, v := range s.refreshTokens {
		snap.RefreshTokens[k] = *v
	}

	return snap
}

// --- Consent ---

// GrantedScopes returns the scopes username has granted to clientID.
func (s *Store) GrantedScopes(username, clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.consent[username][clientID]

	return slices.Sorted(maps.Keys(set))
}

// GrantConsent adds scopes to the consent set of username for clientID.
// Granting an already granted scope is a no-op.
func (s *Store) GrantConsent(username, clientID string, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byClient, ok := s.consent[username]
	if !ok {
		byClient = make(map[string]map[string]struct{})
		s.consent[username] = byClient
	}

	set, ok := byClient[clientID]
	if !ok {
		set = make(map[string]struct{})
		byClient[clientID] = set
	}

	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
}

// --- Sessions ---

// CreateSession stores a session for username and returns it.
func (s *Store) CreateSession(username string, scopes []string) Session {
	sess := Session{
		ID:        RandomHex(sessionIDBytes),
		Username:  username,
		Scopes:    slices.Clone(scopes),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess
}

// Session returns the session with the given id.
func (s *Store) Session(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]

	return sess, ok
}

// Sessions returns all live sessions ordered by creation time.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	out := slices.Collect(maps.Values(s.sessions))
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return out
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

const sessionIDBytes = 32

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
