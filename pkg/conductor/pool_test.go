package conductor

import (
	"context"
	"testing"
	"time"
)

func TestPoolBecomesHealthyAndServesRequests(t *testing.T) {
	server := echoConductor(t, 0)
	defer server.Close()

	pool := NewPool(context.Background(), PoolConfig{
		ConductorID: "c1",
		Endpoint:    wsURL(t, server),
		WorkerCount: 2,
		QueueDepth:  8,
	}, nil)
	defer pool.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !pool.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !pool.IsHealthy() {
		t.Fatal("pool never became healthy")
	}

	resp, err := pool.Submit(context.Background(), []byte("hi"), time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if string(resp) != "hi" {
		t.Errorf("expected echoed payload, got %q", resp)
	}
}

func TestPoolReturnsQueueFullWhenSaturated(t *testing.T) {
	server := echoConductor(t, time.Second)
	defer server.Close()

	pool := NewPool(context.Background(), PoolConfig{
		ConductorID: "c1",
		Endpoint:    wsURL(t, server),
		WorkerCount: 1,
		QueueDepth:  1,
	}, nil)
	defer pool.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !pool.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// Occupy the single worker with a slow in-flight request, fill the
	// one-deep queue, then expect the next Submit to be rejected.
	go pool.Submit(context.Background(), []byte("slow-1"), 5*time.Second)
	time.Sleep(50 * time.Millisecond)
	go pool.Submit(context.Background(), []byte("slow-2"), 5*time.Second)
	time.Sleep(50 * time.Millisecond)

	_, err := pool.Submit(context.Background(), []byte("overflow"), 5*time.Second)
	if err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestPoolSubmitFailsWithoutLiveWorkers(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{
		ConductorID: "c1",
		Endpoint:    "ws://127.0.0.1:1/unreachable",
		WorkerCount: 1,
		QueueDepth:  4,
		DialTimeout: 50 * time.Millisecond,
	}, nil)
	defer pool.Close()

	_, err := pool.Submit(context.Background(), []byte("x"), 100*time.Millisecond)
	if err != ErrDisconnected {
		t.Errorf("expected ErrDisconnected with no live workers, got %v", err)
	}
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	server := echoConductor(t, 0)
	defer server.Close()

	pool := NewPool(context.Background(), PoolConfig{
		ConductorID: "c1",
		Endpoint:    wsURL(t, server),
		WorkerCount: 1,
	}, nil)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
