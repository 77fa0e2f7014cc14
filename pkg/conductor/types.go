// Package conductor implements the connection pool and router that front
// a fleet of peer-to-peer application conductors: one persistent duplex
// connection per conductor worker, a bounded-queue pool multiplexing many
// callers over those workers, and a router mapping agent identifiers to
// the pool hosting them.
package conductor

import (
	"errors"
	"time"
)

// Sentinel errors matching the gateway's error taxonomy. Proxy and HTTP
// handlers translate these into the appropriate surface.
var (
	ErrTimeout      = errors.New("conductor: request timed out")
	ErrDisconnected = errors.New("conductor: no live connection")
	ErrQueueFull    = errors.New("conductor: request queue full")
	ErrShutdown     = errors.New("conductor: pool shut down")
	ErrProtocol     = errors.New("conductor: malformed response frame")
)

// ConductorID identifies one downstream conductor process.
type ConductorID string

// ConductorInfo describes one conductor's endpoints and load, mutated only
// by the Registry.
type ConductorInfo struct {
	ConductorID   ConductorID
	AdminEndpoint string
	AppEndpoint   string
	CapacityUsed  int
	CapacityMax   int
}

// LoadFraction returns capacity_used / capacity_max, used to compare
// conductors for least-loaded selection. A conductor at its cap returns 1.0.
func (c ConductorInfo) LoadFraction() float64 {
	if c.CapacityMax <= 0 {
		return 1.0
	}
	return float64(c.CapacityUsed) / float64(c.CapacityMax)
}

// AgentAssignment is the durable mapping from an agent identifier to the
// conductor hosting it. Each agent identifier has at most one live
// assignment.
type AgentAssignment struct {
	AgentIdentifier string
	ConductorID     ConductorID
	ApplicationID   string
	CreatedAt       time.Time
}

// DefaultApplicationID is used when a router auto-assigns an agent and no
// application id has been specified by the caller.
const DefaultApplicationID = "elohim"
