// Package httpapi implements the gateway's JSON HTTP surface: account
// registration and login, token refresh, session introspection, and
// process health/readiness.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/api"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/auth"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/custodial"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/store"
)

var registerSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["username", "password", "agent_identifier"],
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"password": {"type": "string", "minLength": 8},
		"agent_identifier": {"type": "string", "minLength": 1}
	}
}`)

var loginSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"password": {"type": "string", "minLength": 1}
	}
}`)

func mustCompileSchema(raw string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	url := "mem://" + uuid.NewString() + ".json"
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		panic(err)
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(err)
	}
	return s
}

// AuthHandlers serves the account lifecycle endpoints: register, login,
// refresh, and session introspection.
type AuthHandlers struct {
	users     *store.UserStore
	custodial *custodial.Service
	tokens    *auth.TokenService
	hasher    *auth.PasswordHasher
	log       *slog.Logger
}

// NewAuthHandlers creates an AuthHandlers.
func NewAuthHandlers(users *store.UserStore, custodialSvc *custodial.Service, tokens *auth.TokenService, hasher *auth.PasswordHasher, log *slog.Logger) *AuthHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandlers{users: users, custodial: custodialSvc, tokens: tokens, hasher: hasher, log: log}
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	AgentIdentifier string `json:"agent_identifier"`
}

// Register handles POST /auth/register: creates a UserRecord and
// custodial key material, in that order so a failed key generation never
// leaves an orphaned login-only account half-registered (the custodial
// service is called before the account row commits).
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeValidated(w, r, registerSchema, &req) {
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	userID := uuid.NewString()
	pub, err := h.custodial.Register(r.Context(), userID, req.AgentIdentifier, req.Password)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	err = h.users.CreateUser(r.Context(), store.UserRecord{
		UserID:          userID,
		Username:        req.Username,
		PasswordHash:    hash,
		Tier:            authz.Authenticated,
		AgentIdentifier: req.AgentIdentifier,
		PublicKey:       pub,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		if err == store.ErrUsernameTaken {
			api.WriteError(w, api.KindBadRequest, "username already registered")
			return
		}
		api.WriteInternal(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "agent_identifier": req.AgentIdentifier})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login: verifies the password, warms the
// custodial signing key cache for this session, and issues a bearer
// token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValidated(w, r, loginSchema, &req) {
		return
	}

	rec, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		api.WriteUnauthorized(w, "invalid username or password")
		return
	}

	valid, err := h.hasher.Verify(req.Password, rec.PasswordHash)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if !valid {
		api.WriteUnauthorized(w, "invalid username or password")
		return
	}

	if _, err := h.custodial.Login(r.Context(), rec.UserID, req.Password); err != nil {
		h.log.Warn("auth: custodial login failed after password check succeeded", "err", err)
	}

	token, err := h.tokens.Issue(rec.AgentIdentifier, rec.Tier)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	principal, err := h.tokens.Validate(token)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"token":  token,
		"claims": claimsView(principal),
	})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	tokenStr, ok := bearerToken(r)
	if !ok {
		api.WriteUnauthorized(w, "missing bearer token")
		return
	}
	token, err := h.tokens.Refresh(tokenStr)
	if err != nil {
		api.WriteUnauthorized(w, "invalid or expired token")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// Me handles GET /auth/me.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil || !principal.IsAuthenticated() {
		api.WriteUnauthorized(w, "authentication required")
		return
	}
	_ = json.NewEncoder(w).Encode(claimsView(principal))
}

func claimsView(p auth.Principal) map[string]interface{} {
	return map[string]interface{}{
		"agent_identifier": p.AgentIdentifier,
		"tier":             p.Tier.String(),
		"token_id":         p.TokenID,
		"issued_at":        p.IssuedAt,
		"expires_at":       p.ExpiresAt,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// decodeValidated reads r.Body as JSON into dst and validates the raw
// payload against schema, writing a 400 Problem Detail and returning
// false on any failure.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst interface{}) bool {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		api.WriteBadRequest(w, "malformed JSON body")
		return false
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		api.WriteBadRequest(w, "malformed JSON body")
		return false
	}
	if err := schema.Validate(v); err != nil {
		api.WriteBadRequest(w, err.Error())
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		api.WriteBadRequest(w, "malformed JSON body")
		return false
	}
	return true
}
