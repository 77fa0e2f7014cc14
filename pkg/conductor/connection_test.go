package conductor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-msgpack/codec"
)

var testHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}()

// echoConductor runs a minimal fake conductor: it decodes the outer
// request envelope and replies with the same id, echoing the payload
// back so tests can verify correlation.
func echoConductor(t *testing.T, delay time.Duration) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var outer map[string]interface{}
			dec := codec.NewDecoderBytes(raw, testHandle)
			if err := dec.Decode(&outer); err != nil {
				return
			}

			if delay > 0 {
				time.Sleep(delay)
			}

			reply := map[string]interface{}{
				"id":   outer["id"],
				"data": outer["data"],
			}
			var buf []byte
			enc := codec.NewEncoderBytes(&buf, testHandle)
			if err := enc.Encode(reply); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				return
			}
		}
	}))
}

func wsURL(t *testing.T, server *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectionRequestReturnsCorrelatedResponse(t *testing.T) {
	server := echoConductor(t, 0)
	defer server.Close()

	conn, err := Connect(context.Background(), wsURL(t, server), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	resp, err := conn.Request(context.Background(), []byte("payload-a"), time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(resp) != "payload-a" {
		t.Errorf("expected echoed payload-a, got %q", resp)
	}
}

func TestConnectionCorrelatesConcurrentRequests(t *testing.T) {
	server := echoConductor(t, 0)
	defer server.Close()

	conn, err := Connect(context.Background(), wsURL(t, server), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(strings.Repeat("x", i+1))
			resp, err := conn.Request(context.Background(), payload, 2*time.Second)
			if err != nil {
				t.Errorf("Request %d: %v", i, err)
				return
			}
			if string(resp) != string(payload) {
				t.Errorf("Request %d: got %q, want %q", i, resp, payload)
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectionRequestTimesOutAndClearsPendingEntry(t *testing.T) {
	server := echoConductor(t, 500*time.Millisecond)
	defer server.Close()

	conn, err := Connect(context.Background(), wsURL(t, server), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	_, err = conn.Request(context.Background(), []byte("slow"), 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	time.Sleep(sweepInterval * 2)
	conn.mu.Lock()
	pending := len(conn.pending)
	conn.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected pending table empty after timeout, got %d entries", pending)
	}
}

func TestConnectionDisconnectDrainsPendingRequests(t *testing.T) {
	server := echoConductor(t, time.Second)
	defer server.Close()

	conn, err := Connect(context.Background(), wsURL(t, server), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := conn.Request(context.Background(), []byte("x"), 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-resultCh:
		if err != ErrDisconnected {
			t.Errorf("expected ErrDisconnected after close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("request did not unblock after connection close")
	}

	if conn.IsConnected() {
		t.Error("expected IsConnected to be false after Close")
	}
}
