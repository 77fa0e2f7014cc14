// Package api provides RFC 7807 Problem Detail error responses shared by
// the gateway's HTTP surface (the WebSocket surfaces use the envelope error
// frame instead, see pkg/envelope).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind enumerates the gateway's error taxonomy. Every error surfaced to a
// caller, over HTTP or over the envelope protocol, is one of these kinds.
type Kind string

const (
	KindBadRequest     Kind = "bad_request"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden      Kind = "forbidden"
	KindUnknown        Kind = "unknown"
	KindTimeout        Kind = "timeout"
	KindDisconnected   Kind = "disconnected"
	KindQueueFull      Kind = "queue_full"
	KindConductor      Kind = "conductor"
	KindInternal       Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindBadRequest:      http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindUnknown:         http.StatusNotFound,
	KindTimeout:         http.StatusGatewayTimeout,
	KindDisconnected:    http.StatusBadGateway,
	KindQueueFull:       http.StatusServiceUnavailable,
	KindConductor:       http.StatusBadGateway,
	KindInternal:        http.StatusInternalServerError,
}

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     Kind   `json:"kind"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response for the given
// error kind.
func WriteError(w http.ResponseWriter, kind Kind, detail string) {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://gateway.local/errors/%s", kind),
		Title:  string(kind),
		Status: status,
		Detail: detail,
		Kind:   kind,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteErrorR enriches WriteError with the request's URI as the instance.
func WriteErrorR(w http.ResponseWriter, r *http.Request, kind Kind, detail string) {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://gateway.local/errors/%s", kind),
		Title:    string(kind),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Kind:     kind,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, KindBadRequest, detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	WriteError(w, KindUnauthenticated, detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "insufficient permissions"
	}
	WriteError(w, KindForbidden, detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, KindUnknown, detail)
}

func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://gateway.local/errors/%s", KindQueueFull),
		Title:  string(KindQueueFull),
		Status: http.StatusTooManyRequests,
		Detail: "rate limit exceeded, retry after the specified interval",
		Kind:   KindQueueFull,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteInternal logs err internally but never exposes it to the caller.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, KindInternal, "an unexpected error occurred")
}
