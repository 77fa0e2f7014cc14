package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// queuedRequest is one call waiting for a free worker connection.
type queuedRequest struct {
	ctx     context.Context
	payload []byte
	timeout time.Duration
	resultCh chan poolResult
}

type poolResult struct {
	data []byte
	err  error
}

// Pool is a fixed-size set of Connections to the workers behind one
// conductor, multiplexed behind a single bounded FIFO queue. Callers never
// see individual connections; they submit a request and the pool dispatches
// it to whichever connection is least loaded, reconnecting workers in the
// background as they drop.
type Pool struct {
	conductorID ConductorID
	endpoint    string
	size        int
	dialTimeout time.Duration

	mu      sync.Mutex
	workers []*Connection
	inflight map[*Connection]int

	queue   chan queuedRequest
	closed  bool
	stopCh  chan struct{}

	log *slog.Logger
}

// PoolConfig configures a Pool's size and back-pressure behavior.
type PoolConfig struct {
	ConductorID ConductorID
	Endpoint    string
	WorkerCount int
	QueueDepth  int
	DialTimeout time.Duration
}

// NewPool creates a Pool and starts its worker connections and dispatch
// loop. Workers that fail to dial at startup are retried in the background;
// the pool is usable (though degraded) even with zero live workers.
func NewPool(ctx context.Context, cfg PoolConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	p := &Pool{
		conductorID: cfg.ConductorID,
		endpoint:    cfg.Endpoint,
		size:        cfg.WorkerCount,
		dialTimeout: cfg.DialTimeout,
		inflight:    make(map[*Connection]int),
		queue:       make(chan queuedRequest, cfg.QueueDepth),
		stopCh:      make(chan struct{}),
		log:         log.With("conductor_id", string(cfg.ConductorID)),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		go p.superviseWorker(ctx, i)
	}
	go p.dispatchLoop()

	return p
}

// superviseWorker keeps one worker slot connected, reconnecting with a
// backoff whenever its connection drops.
func (p *Pool) superviseWorker(ctx context.Context, slot int) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
		conn, err := Connect(dialCtx, p.endpoint, p.log)
		cancel()
		if err != nil {
			p.log.Warn("conductor: worker dial failed", "slot", slot, "err", err)
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = 500 * time.Millisecond
		p.mu.Lock()
		p.workers = append(p.workers, conn)
		p.inflight[conn] = 0
		p.mu.Unlock()

		p.waitForDrop(conn)

		p.mu.Lock()
		delete(p.inflight, conn)
		for i, w := range p.workers {
			if w == conn {
				p.workers = append(p.workers[:i], p.workers[i+1:]...)
				break
			}
		}
		p.mu.Unlock()

		select {
		case <-p.stopCh:
			return
		default:
		}
	}
}

func (p *Pool) waitForDrop(conn *Connection) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !conn.IsConnected() {
				return
			}
		case <-p.stopCh:
			conn.Close()
			return
		}
	}
}

// dispatchLoop pulls queued requests and hands each to the least-loaded
// live worker, running the underlying Request call in its own goroutine so
// a slow worker never head-of-line-blocks the queue.
func (p *Pool) dispatchLoop() {
	for {
		select {
		case req := <-p.queue:
			conn := p.leastLoaded()
			if conn == nil {
				req.resultCh <- poolResult{err: ErrDisconnected}
				continue
			}
			p.mu.Lock()
			p.inflight[conn]++
			p.mu.Unlock()

			go func(conn *Connection, req queuedRequest) {
				defer func() {
					p.mu.Lock()
					p.inflight[conn]--
					p.mu.Unlock()
				}()
				data, err := conn.Request(req.ctx, req.payload, req.timeout)
				req.resultCh <- poolResult{data: data, err: err}
			}(conn, req)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) leastLoaded() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Connection
	bestLoad := -1
	for _, w := range p.workers {
		if !w.IsConnected() {
			continue
		}
		load := p.inflight[w]
		if best == nil || load < bestLoad {
			best = w
			bestLoad = load
		}
	}
	return best
}

// Submit enqueues payload for dispatch to a worker connection, returning
// ErrQueueFull immediately if the queue is at capacity rather than blocking
// the caller indefinitely.
func (p *Pool) Submit(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	p.mu.Unlock()

	req := queuedRequest{ctx: ctx, payload: payload, timeout: timeout, resultCh: make(chan poolResult, 1)}

	select {
	case p.queue <- req:
	default:
		return nil, ErrQueueFull
	}

	select {
	case res := <-req.resultCh:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnectedCount returns the number of workers with a live connection.
func (p *Pool) ConnectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.IsConnected() {
			n++
		}
	}
	return n
}

// WorkerCount returns the pool's configured worker target.
func (p *Pool) WorkerCount() int {
	return p.size
}

// ConductorID returns the id of the conductor this pool serves.
func (p *Pool) ConductorID() ConductorID {
	return p.conductorID
}

// IsHealthy reports whether at least one worker is connected.
func (p *Pool) IsHealthy() bool {
	return p.ConnectedCount() > 0
}

// Close stops dispatch and tears down every worker connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := p.workers
	p.mu.Unlock()

	close(p.stopCh)
	for _, w := range workers {
		w.Close()
	}
	return nil
}
