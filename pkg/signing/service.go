// Package signing lets a user without their own conductor node produce
// signed admin requests through the gateway. It is the sole path by which
// a custodial agent acts: resolve the agent's cached key, assemble a
// fresh, replay-resistant request, sign it, and forward it through the
// Router like any other admin call.
package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/hashicorp/go-msgpack/codec"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/crypto"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/custodial"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/kernel"
)

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}()

// ErrReauthenticationRequired means the agent's signing key is not (or no
// longer) in the cache; the caller must log in again before retrying.
var ErrReauthenticationRequired = fmt.Errorf("signing: key not cached, re-authentication required")

// ErrRateLimited means the agent has exceeded its signing request quota.
var ErrRateLimited = fmt.Errorf("signing: rate limit exceeded")

// signedRequest is the structure actually signed and forwarded. Field
// order here is irrelevant to the signature: canonicalization sorts keys
// before signing.
type signedRequest struct {
	AgentIdentifier string      `json:"agent_identifier"`
	Operation       string      `json:"operation"`
	Nonce           string      `json:"nonce"`
	ExpiresAt       int64       `json:"expires_at"`
	Payload         interface{} `json:"payload,omitempty"`
	Signature       string      `json:"signature,omitempty"`
}

// Service assembles and forwards signed custodial requests.
type Service struct {
	cache   *custodial.SigningKeyCache
	router  *conductor.Router
	limiter kernel.LimiterStore
	policy  kernel.BackpressurePolicy

	requestTTL time.Duration
	reqTimeout time.Duration

	log *slog.Logger
}

// NewService creates a Service. limiter may be nil to disable rate
// limiting (tests, dev mode); policy is ignored in that case.
func NewService(cache *custodial.SigningKeyCache, router *conductor.Router, limiter kernel.LimiterStore, policy kernel.BackpressurePolicy, requestTTL, reqTimeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if requestTTL <= 0 {
		requestTTL = 30 * time.Second
	}
	if reqTimeout <= 0 {
		reqTimeout = 30 * time.Second
	}
	return &Service{
		cache:      cache,
		router:     router,
		limiter:    limiter,
		policy:     policy,
		requestTTL: requestTTL,
		reqTimeout: reqTimeout,
		log:        log,
	}
}

// Sign assembles a fresh, nonced request for operation carrying payload,
// signs it with agentIdentifier's cached key, and forwards it to that
// agent's conductor, returning the conductor's raw response bytes.
func (s *Service) Sign(ctx context.Context, agentIdentifier, operation string, payload interface{}) ([]byte, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, agentIdentifier, s.policy, 1)
		if err != nil {
			return nil, fmt.Errorf("signing: rate limiter error: %w", err)
		}
		if !allowed {
			return nil, ErrRateLimited
		}
	}

	req := signedRequest{
		AgentIdentifier: agentIdentifier,
		Operation:       operation,
		Nonce:           uuid.NewString(),
		ExpiresAt:       time.Now().Add(s.requestTTL).Unix(),
		Payload:         payload,
	}

	canonical, err := canonicalize(req)
	if err != nil {
		return nil, fmt.Errorf("signing: canonicalize request: %w", err)
	}

	var signature string
	var signErr error
	if useErr := s.cache.Use(agentIdentifier, func(keyBytes []byte) {
		signer := crypto.NewEd25519SignerFromKey(ed25519.PrivateKey(keyBytes), agentIdentifier)
		signature, signErr = signer.Sign(canonical)
	}); useErr != nil {
		if useErr == custodial.ErrCacheMiss || useErr == custodial.ErrCacheExpired {
			return nil, ErrReauthenticationRequired
		}
		return nil, fmt.Errorf("signing: sign request: %w", useErr)
	}
	if signErr != nil {
		return nil, fmt.Errorf("signing: sign request: %w", signErr)
	}
	req.Signature = signature

	wire, err := encodeOperation(operation, req)
	if err != nil {
		return nil, fmt.Errorf("signing: encode wire message: %w", err)
	}

	pool, err := s.router.Route(ctx, agentIdentifier)
	if err != nil {
		return nil, fmt.Errorf("signing: route to conductor: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.reqTimeout)
	defer cancel()

	response, err := pool.Submit(reqCtx, wire, s.reqTimeout)
	if err != nil {
		return nil, fmt.Errorf("signing: conductor request: %w", err)
	}
	return response, nil
}

// canonicalize produces the exact bytes a signature is computed over:
// standard JSON (struct fields in declaration order) run through JCS
// (RFC 8785), which sorts the keys, so the signer and any verifier agree
// on byte-for-byte representation regardless of field order or whitespace.
func canonicalize(req signedRequest) ([]byte, error) {
	req.Signature = ""
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// encodeOperation builds the direct-tagged wire message the conductor
// expects: {kind: operation, data: signed}.
func encodeOperation(operation string, signed signedRequest) ([]byte, error) {
	msg := map[string]interface{}{
		"kind": operation,
		"data": map[string]interface{}{
			"agent_identifier": signed.AgentIdentifier,
			"nonce":            signed.Nonce,
			"expires_at":       signed.ExpiresAt,
			"payload":          signed.Payload,
			"signature":        signed.Signature,
		},
	}

	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf, nil
}
