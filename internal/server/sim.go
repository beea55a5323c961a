package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	simerrors "github.com/alexjbarnes/oauth-flow-sim/internal/errors"
	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/alexjbarnes/oauth-flow-sim/internal/signing"
	"github.com/alexjbarnes/oauth-flow-sim/internal/store"
)

// registerSim mounts the admin API that drives simulator state.
func (s *server) registerSim(mux *http.ServeMux) {
	mux.HandleFunc("GET /sim/clients", s.handleListClients)
	mux.HandleFunc("POST /sim/clients", s.handleCreateClient)
	mux.HandleFunc("GET /sim/clients/{id}", s.handleGetClient)
	mux.HandleFunc("PUT /sim/clients/{id}", s.handlePutClient)
	mux.HandleFunc("DELETE /sim/clients/{id}", s.handleDeleteClient)

	mux.HandleFunc("GET /sim/users", s.handleListUsers)
	mux.HandleFunc("POST /sim/users", s.handleCreateUser)
	mux.HandleFunc("GET /sim/users/{username}", s.handleGetUser)
	mux.HandleFunc("PUT /sim/users/{username}", s.handlePutUser)
	mux.HandleFunc("DELETE /sim/users/{username}", s.handleDeleteUser)

	mux.HandleFunc("GET /sim/keys", s.handleListKeys)
	mux.HandleFunc("POST /sim/keys/generate", s.handleGenerateKey)
	mux.HandleFunc("POST /sim/keys/active/{kid}", s.handleActivateKey)
	mux.HandleFunc("DELETE /sim/keys/{kid}", s.handleDeleteKey)

	mux.HandleFunc("GET /sim/config/signing", s.handleGetSigning)
	mux.HandleFunc("PUT /sim/config/signing", s.handlePutSigning)
	mux.HandleFunc("GET /sim/config/claims", s.handleGetClaims)
	mux.HandleFunc("PUT /sim/config/claims", s.handlePutClaims)
	mux.HandleFunc("GET /sim/config/userinfo", s.handleGetUserinfoScopes)
	mux.HandleFunc("PUT /sim/config/userinfo", s.handlePutUserinfoScopes)
	mux.HandleFunc("GET /sim/config/errors", s.handleListErrorSims)
	mux.HandleFunc("POST /sim/config/errors", s.handleSetErrorSim)
	mux.HandleFunc("DELETE /sim/config/errors", s.handleDeleteErrorSim)
	mux.HandleFunc("GET /sim/config/delays", s.handleListDelaySims)
	mux.HandleFunc("POST /sim/config/delays", s.handleSetDelaySim)
	mux.HandleFunc("DELETE /sim/config/delays", s.handleDeleteDelaySim)

	mux.HandleFunc("GET /sim/sessions", s.handleListSessions)
	mux.HandleFunc("GET /sim/state", s.handleState)
	mux.HandleFunc("POST /sim/reset", s.handleReset)
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "invalid JSON body")
		return false
	}

	return true
}

// --- Clients ---

func (s *server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Clients())
}

func (s *server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if !decodeJSON(w, r, &c) {
		return
	}

	if c.ClientID == "" {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "clientId is required")
		return
	}

	if err := s.store.AddClient(c); err != nil {
		writeJSONError(w, http.StatusConflict, simerrors.CodeInvalidRequest, err.Error())
		return
	}

	s.logger.Info("client created", slog.String("client_id", c.ClientID))
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, ok := s.store.Client(r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", simerrors.ErrClientNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (s *server) handlePutClient(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if !decodeJSON(w, r, &c) {
		return
	}

	c.ClientID = r.PathValue("id")
	s.store.PutClient(c)

	s.logger.Info("client updated", slog.String("client_id", c.ClientID))
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteClient(r.PathValue("id")); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (s *server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Users())
}

func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if !decodeJSON(w, r, &u) {
		return
	}

	if u.Username == "" {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "username is required")
		return
	}

	if err := s.store.AddUser(u); err != nil {
		writeJSONError(w, http.StatusConflict, simerrors.CodeInvalidRequest, err.Error())
		return
	}

	s.logger.Info("user created", slog.String("username", u.Username))
	writeJSON(w, http.StatusCreated, u)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.store.User(r.PathValue("username"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", simerrors.ErrUserNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (s *server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if !decodeJSON(w, r, &u) {
		return
	}

	u.Username = r.PathValue("username")
	s.store.PutUser(u)

	writeJSON(w, http.StatusOK, u)
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.PathValue("username")); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Keys ---

type keysResponse struct {
	ActiveKid string              `json:"activeKid"`
	Keys      []models.SigningKey `json:"keys"`
}

// publicOnly strips private key material.
func publicOnly(keys []models.SigningKey) []models.SigningKey {
	out := make([]models.SigningKey, len(keys))
	for i, k := range keys {
		k.PrivatePEM = ""
		out[i] = k
	}

	return out
}

func (s *server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, keysResponse{
		ActiveKid: s.store.ActiveKid(),
		Keys:      publicOnly(s.store.SigningKeys()),
	})
}

type generateKeyRequest struct {
	Kid      string `json:"kid"`
	Alg      string `json:"alg"`
	Activate bool   `json:"activate"`
}

func (s *server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Alg == "" {
		req.Alg = "RS256"
	}

	key, err := signing.GenerateKey(req.Kid, req.Alg)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, err.Error())
		return
	}

	if err := s.store.AddSigningKey(key); err != nil {
		writeJSONError(w, http.StatusConflict, simerrors.CodeInvalidRequest, err.Error())
		return
	}

	if req.Activate {
		if err := s.store.SetActiveKid(key.Kid); err != nil {
			writeOAuthError(w, fmt.Errorf("activating key: %w", err))
			return
		}
	}

	s.logger.Info("signing key generated",
		slog.String("kid", key.Kid),
		slog.String("alg", key.Alg),
		slog.Bool("active", req.Activate),
	)

	key.PrivatePEM = ""
	writeJSON(w, http.StatusCreated, key)
}

func (s *server) handleActivateKey(w http.ResponseWriter, r *http.Request) {
	kid := r.PathValue("kid")
	if err := s.store.SetActiveKid(kid); err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	s.logger.Info("signing key activated", slog.String("kid", kid))
	writeJSON(w, http.StatusOK, map[string]string{"activeKid": kid})
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSigningKey(r.PathValue("kid")); err != nil {
		if errors.Is(err, simerrors.ErrUnknownKey) {
			writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeOAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Config ---

func (s *server) handleGetSigning(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.SigningConfig())
}

func (s *server) handlePutSigning(w http.ResponseWriter, r *http.Request) {
	var cfg models.SigningConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}

	s.store.SetSigningConfig(cfg)
	s.logger.Info("signing config updated",
		slog.Bool("asym_key_signing", cfg.AsymKeySigning),
		slog.Bool("include_jwt_kid", cfg.IncludeJWTKid),
	)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *server) handleGetClaims(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ClaimConfig())
}

func (s *server) handlePutClaims(w http.ResponseWriter, r *http.Request) {
	var cfg models.ClaimConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}

	s.store.SetClaimConfig(cfg)
	writeJSON(w, http.StatusOK, s.store.ClaimConfig())
}

func (s *server) handleGetUserinfoScopes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.UserinfoScopes())
}

func (s *server) handlePutUserinfoScopes(w http.ResponseWriter, r *http.Request) {
	var us models.UserinfoScopes
	if !decodeJSON(w, r, &us) {
		return
	}

	s.store.SetUserinfoScopes(us)
	writeJSON(w, http.StatusOK, s.store.UserinfoScopes())
}

type errorSimRequest struct {
	Target           string `json:"target"`
	Status           int    `json:"status"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *server) handleListErrorSims(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ErrorSimulations())
}

func (s *server) handleSetErrorSim(w http.ResponseWriter, r *http.Request) {
	var req errorSimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Error == "" {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest, "error is required")
		return
	}

	if req.Target == "" {
		req.Target = store.AllTargets
	}

	if req.Status == 0 {
		req.Status = simerrors.StatusFor(req.Error)
	}

	f := models.Fault{Status: req.Status, Error: req.Error, ErrorDescription: req.ErrorDescription}
	s.store.SetErrorSimulation(req.Target, f)

	s.logger.Info("error simulation set",
		slog.String("target", req.Target),
		slog.String("error", req.Error),
		slog.Int("status", req.Status),
	)
	writeJSON(w, http.StatusOK, s.store.ErrorSimulations())
}

func (s *server) handleDeleteErrorSim(w http.ResponseWriter, r *http.Request) {
	s.store.DeleteErrorSimulation(r.URL.Query().Get("target"))
	w.WriteHeader(http.StatusNoContent)
}

type delaySimRequest struct {
	Target  string `json:"target"`
	DelayMs int64  `json:"delayMs"`
}

// delaySims renders configured delays in milliseconds.
func delaySims(sims map[string]time.Duration) map[string]int64 {
	out := make(map[string]int64, len(sims))
	for k, d := range sims {
		out[k] = d.Milliseconds()
	}

	return out
}

func (s *server) handleListDelaySims(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, delaySims(s.store.DelaySimulations()))
}

func (s *server) handleSetDelaySim(w http.ResponseWriter, r *http.Request) {
	var req delaySimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d := time.Duration(req.DelayMs) * time.Millisecond
	if d <= 0 || d >= s.maxDelay {
		writeJSONError(w, http.StatusBadRequest, simerrors.CodeInvalidRequest,
			fmt.Sprintf("delayMs must be between 1 and %d", s.maxDelay.Milliseconds()-1))
		return
	}

	if req.Target == "" {
		req.Target = store.AllTargets
	}

	s.store.SetDelaySimulation(req.Target, d)
	s.logger.Info("delay simulation set", slog.String("target", req.Target), slog.Duration("delay", d))
	writeJSON(w, http.StatusOK, delaySims(s.store.DelaySimulations()))
}

func (s *server) handleDeleteDelaySim(w http.ResponseWriter, r *http.Request) {
	s.store.DeleteDelaySimulation(r.URL.Query().Get("target"))
	w.WriteHeader(http.StatusNoContent)
}

// --- State ---

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Sessions())
}

func (s *server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.store.Reset()
	s.logger.Info("simulator state reset")
	w.WriteHeader(http.StatusNoContent)
}
