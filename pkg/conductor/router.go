package conductor

import (
	"context"
	"log/slog"
	"sync"
)

// Router resolves which Pool should handle a given agent identifier,
// consulting the durable registry before falling back to auto-assignment.
//
// route(agent_identifier) follows four steps:
//
//  1. look up an existing durable assignment for the agent; if found and
//     its pool is still registered, use that pool.
//  2. (folded into step 1: a stale assignment pointing at a pool that no
//     longer exists falls through to auto-assignment below.)
//  3. auto-assign the agent to the least-loaded registered conductor,
//     persisting the assignment best-effort, and use that pool.
//  4. if no conductor is registered at all, fall back to the default pool
//     if one has been configured.
type Router struct {
	registry *Registry
	log      *slog.Logger

	mu    sync.RWMutex
	pools map[ConductorID]*Pool

	defaultPool *Pool
}

// NewRouter creates a Router backed by registry. defaultPool may be nil.
func NewRouter(registry *Registry, defaultPool *Pool, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:    registry,
		log:         log,
		pools:       make(map[ConductorID]*Pool),
		defaultPool: defaultPool,
	}
}

// RegisterPool associates conductorID with the Pool that serves it.
func (r *Router) RegisterPool(conductorID ConductorID, pool *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[conductorID] = pool
}

func (r *Router) pool(conductorID ConductorID) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[conductorID]
	return p, ok
}

// DefaultPool returns the router's fallback pool, or nil if none is set.
func (r *Router) DefaultPool() *Pool {
	return r.defaultPool
}

// Registry returns the router's backing Registry, so callers that need
// conductor endpoint metadata (e.g. the app proxy's upstream dial target)
// don't need a separate reference threaded through.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route resolves the Pool that should handle agentIdentifier, assigning the
// agent to a conductor on first contact.
func (r *Router) Route(ctx context.Context, agentIdentifier string) (*Pool, error) {
	if assignment, ok, err := r.registry.Assignment(ctx, agentIdentifier); err != nil {
		return nil, err
	} else if ok {
		if p, ok := r.pool(assignment.ConductorID); ok {
			return p, nil
		}
		r.log.Warn("conductor: stale assignment points at unregistered conductor",
			"agent_identifier", agentIdentifier, "conductor_id", string(assignment.ConductorID))
	}

	info, ok := r.registry.LeastLoaded()
	if !ok {
		if r.defaultPool != nil {
			return r.defaultPool, nil
		}
		return nil, ErrDisconnected
	}

	if err := r.registry.Assign(ctx, agentIdentifier, info.ConductorID); err != nil {
		r.log.Warn("conductor: failed to persist auto-assignment", "err", err)
	}

	p, ok := r.pool(info.ConductorID)
	if !ok {
		if r.defaultPool != nil {
			return r.defaultPool, nil
		}
		return nil, ErrDisconnected
	}
	return p, nil
}

// AnyPoolConnected reports whether at least one registered pool (including
// the default pool, if set) has a live worker connection. Used for
// process readiness checks.
func (r *Router) AnyPoolConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		if p.IsHealthy() {
			return true
		}
	}
	return r.defaultPool != nil && r.defaultPool.IsHealthy()
}
