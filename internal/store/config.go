package store

import (
	"maps"
	"slices"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
)

// AllTargets is the simulation target that applies to every endpoint
// without a target-specific entry.
const AllTargets = "all"

// --- Signing keys ---

// SigningKeys returns a copy of all signing keys.
func (s *Store) SigningKeys() []models.SigningKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.keys)
}

// SigningKey returns the key with the given kid.
func (s *Store) SigningKey(kid string) (models.SigningKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.Kid == kid {
			return k, true
		}
	}

	return models.SigningKey{}, false
}

// ActiveKid returns the kid selected for signing.
func (s *Store) ActiveKid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeKid
}

// AddSigningKey appends a key. The kid must be unique.
func (s *Store) AddSigningKey(k models.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.keys {
		if existing.Kid == k.Kid {
			return simerrors.ErrDuplicateKey
		}
	}

	s.keys = append(s.keys, k)

	return nil
}

// DeleteSigningKey removes a key. Deleting the active key leaves the
// active kid dangling, which fails asymmetric signing until another key
// is activated.
func (s *Store) DeleteSigningKey(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.keys, func(k models.SigningKey) bool { return k.Kid == kid })
	if idx < 0 {
		return simerrors.ErrUnknownKey
	}

	s.keys = slices.Delete(s.keys, idx, idx+1)

	return nil
}

// SetActiveKid selects the key used to sign new tokens.
func (s *Store) SetActiveKid(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.ContainsFunc(s.keys, func(k models.SigningKey) bool { return k.Kid == kid }) {
		return simerrors.ErrUnknownKey
	}

	s.activeKid = kid

	return nil
}

// SigningConfig returns the process-wide signing toggles.
func (s *Store) SigningConfig() models.SigningConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.signingConfig
}

// SetSigningConfig replaces the signing toggles.
func (s *Store) SetSigningConfig(cfg models.SigningConfig) {
	s.mu.Lock()
	s.signingConfig = cfg
	s.mu.Unlock()
}

// --- Claim templates ---

// ClaimConfig returns a copy of the claim template layers.
func (s *Store) ClaimConfig() models.ClaimConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.ClaimConfig{
		Globals: maps.Clone(s.claimConfig.Globals),
		Clients: make(map[string]map[string]any, len(s.claimConfig.Clients)),
		Users:   make(map[string]map[string]any, len(s.claimConfig.Users)),
	}
	for k, v := range s.claimConfig.Clients {
		out.Clients[k] = maps.Clone(v)
	}
	for k, v := range s.claimConfig.Users {
		out.Users[k] = maps.Clone(v)
	}

	return out
}

// SetClaimConfig replaces the claim template layers.
func (s *Store) SetClaimConfig(cfg models.ClaimConfig) {
	if cfg.Globals == nil {
		cfg.Globals = map[string]any{}
	}
	if cfg.Clients == nil {
		cfg.Clients = map[string]map[string]any{}
	}
	if cfg.Users == nil {
		cfg.Users = map[string]map[string]any{}
	}

	s.mu.Lock()
	s.claimConfig = cfg
	s.mu.Unlock()
}

// --- Userinfo scope mapping ---

// UserinfoScopes returns a copy of the scope to claims mapping layers.
func (s *Store) UserinfoScopes() models.UserinfoScopes {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.UserinfoScopes{
		Globals: maps.Clone(s.userinfoScopes.Globals),
		Clients: make(map[string]map[string][]string, len(s.userinfoScopes.Clients)),
		Users:   make(map[string]map[string][]string, len(s.userinfoScopes.Users)),
	}
	for k, v := range s.userinfoScopes.Clients {
		out.Clients[k] = maps.Clone(v)
	}
	for k, v := range s.userinfoScopes.Users {
		out.Users[k] = maps.Clone(v)
	}

	return out
}

// SetUserinfoScopes replaces the scope to claims mapping layers.
func (s *Store) SetUserinfoScopes(us models.UserinfoScopes) {
	if us.Globals == nil {
		us.Globals = map[string][]string{}
	}
	if us.Clients == nil {
		us.Clients = map[string]map[string][]string{}
	}
	if us.Users == nil {
		us.Users = map[string]map[string][]string{}
	}

	s.mu.Lock()
	s.userinfoScopes = us
	s.mu.Unlock()
}

// --- Discovery document ---

// Discovery returns the discovery document template.
func (s *Store) Discovery() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.discovery)
}

// SetDiscovery replaces the discovery document template.
func (s *Store) SetDiscovery(doc map[string]any) {
	s.mu.Lock()
	s.discovery = maps.Clone(doc)
	s.mu.Unlock()
}

// --- Error and delay simulations ---

// ErrorSimulation returns the fault configured for target, falling back
// to the AllTargets entry.
func (s *Store) ErrorSimulation(target string) (models.Fault, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := s.errorSims[target]; ok {
		return f, true
	}

	f, ok := s.errorSims[AllTargets]

	return f, ok
}

// ErrorSimulations returns all configured faults keyed by target.
func (s *Store) ErrorSimulations() map[string]models.Fault {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.errorSims)
}

// SetErrorSimulation configures a fault for target.
func (s *Store) SetErrorSimulation(target string, f models.Fault) {
	s.mu.Lock()
	s.errorSims[target] = f
	s.mu.Unlock()
}

// DeleteErrorSimulation removes the fault for target, or all faults when
// target is empty.
func (s *Store) DeleteErrorSimulation(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target == "" {
		clear(s.errorSims)
		return
	}

	delete(s.errorSims, target)
}

// DelaySimulation returns the delay configured for target, falling back
// to the AllTargets entry.
func (s *Store) DelaySimulation(target string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.delaySims[target]; ok {
		return d, true
	}

	d, ok := s.delaySims[AllTargets]

	return d, ok
}

// DelaySimulations returns all configured delays keyed by target.
func (s *Store) DelaySimulations() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.delaySims)
}

// SetDelaySimulation configures a delay for target.
func (s *Store) SetDelaySimulation(target string, d time.Duration) {
	s.mu.Lock()
	s.delaySims[target] = d
	s.mu.Unlock()
}

// DeleteDelaySimulation removes the delay for target, or all delays when
// target is empty.
func (s *Store) DeleteDelaySimulation(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target == "" {
		clear(s.delaySims)
		return
	}

	delete(s.delaySims, target)
}
