package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/api"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/auth"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/signing"
)

var signRequestSchema = mustCompileSchema(`{
	"type": "object",
	"required": ["operation"],
	"properties": {
		"operation": {"type": "string", "minLength": 1},
		"payload": {}
	}
}`)

// SigningHandlers exposes the Signing Service to custodial users over
// HTTP: the sole path through which an account without its own conductor
// node produces a signed admin request.
type SigningHandlers struct {
	signer *signing.Service
	log    *slog.Logger
}

// NewSigningHandlers creates a SigningHandlers backed by signer.
func NewSigningHandlers(signer *signing.Service, log *slog.Logger) *SigningHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &SigningHandlers{signer: signer, log: log}
}

type signRequest struct {
	Operation string      `json:"operation"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Sign handles POST /sign: signs and forwards operation/payload on behalf
// of the authenticated caller's agent identity, returning the conductor's
// raw response as a msgpack-encoded body.
func (h *SigningHandlers) Sign(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil || !principal.IsAuthenticated() {
		api.WriteUnauthorized(w, "authentication required")
		return
	}

	var req signRequest
	if !decodeValidated(w, r, signRequestSchema, &req) {
		return
	}

	response, err := h.signer.Sign(r.Context(), principal.AgentIdentifier, req.Operation, req.Payload)
	if err != nil {
		switch err {
		case signing.ErrReauthenticationRequired:
			api.WriteUnauthorized(w, "signing key not cached, log in again")
		case signing.ErrRateLimited:
			api.WriteTooManyRequests(w, 1)
		default:
			api.WriteError(w, api.KindConductor, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/msgpack")
	_, _ = w.Write(response)
}
