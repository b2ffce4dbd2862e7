package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockFeedServer creates a test websocket server.
func mockFeedServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recordingHandler collects handler calls in order.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHandler) OnConnected(instanceID string, replicas int) {
	h.mu.Lock()
	h.calls = append(h.calls, "connected:"+instanceID)
	h.mu.Unlock()
}

func (h *recordingHandler) OnDisconnected(instanceID string) {
	h.mu.Lock()
	h.calls = append(h.calls, "disconnected:"+instanceID)
	h.mu.Unlock()
}

func (h *recordingHandler) OnStreamClosed(instanceID string) {
	h.mu.Lock()
	h.calls = append(h.calls, "stream_closed:"+instanceID)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *recordingHandler) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := h.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d handler calls, have %v", n, h.snapshot())
	return nil
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	return cfg
}

func TestStream_DeliversEventsInOrder(t *testing.T) {
	frames := []string{
		`{"type":"connected","instance_id":"vint-hill:1:ps-mpa-1","replicas":2}`,
		`{"type":"connected","instance_id":"new-york:0:ps-mpa-2","replicas":2}`,
		`{"type":"disconnected","instance_id":"vint-hill:1:ps-mpa-1"}`,
		`{"type":"stream_closed","instance_id":"new-york:0:ps-mpa-2"}`,
	}

	server := mockFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.URL.Query().Get("account"); got != "acct-1" {
			t.Errorf("account query = %q, want acct-1", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer feed-token" {
			t.Errorf("Authorization = %q, want Bearer feed-token", got)
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep the socket open while the client consumes.
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.Token = "feed-token"
	handler := &recordingHandler{}
	stream := NewStream(cfg, "acct-1", handler, nil)

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopStream(t, stream)

	want := []string{
		"connected:vint-hill:1:ps-mpa-1",
		"connected:new-york:0:ps-mpa-2",
		"disconnected:vint-hill:1:ps-mpa-1",
		"stream_closed:new-york:0:ps-mpa-2",
	}
	got := handler.waitFor(t, len(want))
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStream_SynthesizesStreamClosedOnSocketLoss(t *testing.T) {
	var sessions int
	var sessionsMu sync.Mutex

	server := mockFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		sessionsMu.Lock()
		sessions++
		n := sessions
		sessionsMu.Unlock()

		if n == 1 {
			// First session: report an instance live, then drop the socket.
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"connected","instance_id":"vint-hill:1:ps-mpa-1","replicas":2}`))
			time.Sleep(50 * time.Millisecond)
			return
		}
		// Redial session stays quiet.
		time.Sleep(time.Second)
	})
	defer server.Close()

	handler := &recordingHandler{}
	stream := NewStream(testConfig(wsURL(server)), "acct-1", handler, nil)

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopStream(t, stream)

	got := handler.waitFor(t, 2)
	if got[0] != "connected:vint-hill:1:ps-mpa-1" {
		t.Errorf("call 0 = %q, want the connect", got[0])
	}
	if got[1] != "stream_closed:vint-hill:1:ps-mpa-1" {
		t.Errorf("call 1 = %q, want synthesized stream close", got[1])
	}
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	var sessions int
	var sessionsMu sync.Mutex

	server := mockFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		sessionsMu.Lock()
		sessions++
		n := sessions
		sessionsMu.Unlock()

		if n == 1 {
			return // drop immediately
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"connected","instance_id":"vint-hill:1:ps-mpa-1","replicas":2}`))
		time.Sleep(time.Second)
	})
	defer server.Close()

	handler := &recordingHandler{}
	stream := NewStream(testConfig(wsURL(server)), "acct-1", handler, nil)

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopStream(t, stream)

	got := handler.waitFor(t, 1)
	if got[0] != "connected:vint-hill:1:ps-mpa-1" {
		t.Errorf("call 0 = %q, want the connect from the second session", got[0])
	}

	stats := stream.Stats()
	if stats.Sessions < 2 {
		t.Errorf("Sessions = %d, want at least 2", stats.Sessions)
	}
}

func TestStream_MalformedFramesAreSkipped(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"connected","instance_id":"vint-hill:1:ps-mpa-1","replicas":2}`))
		time.Sleep(time.Second)
	})
	defer server.Close()

	handler := &recordingHandler{}
	stream := NewStream(testConfig(wsURL(server)), "acct-1", handler, nil)

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopStream(t, stream)

	got := handler.waitFor(t, 1)
	if len(got) != 1 || got[0] != "connected:vint-hill:1:ps-mpa-1" {
		t.Errorf("calls = %v, want only the valid connect frame", got)
	}
}

func TestStream_StartRequiresURL(t *testing.T) {
	stream := NewStream(Config{}, "acct-1", &recordingHandler{}, nil)
	if err := stream.Start(context.Background()); err == nil {
		t.Error("Start without a URL should fail")
	}
}

func TestStream_StopIsClean(t *testing.T) {
	server := mockFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream := NewStream(testConfig(wsURL(server)), "acct-1", &recordingHandler{}, nil)
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let it connect before stopping.
	deadline := time.Now().Add(time.Second)
	for !stream.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stopStream(t, stream)
	if stream.IsConnected() {
		t.Error("stream should not report connected after Stop")
	}
}

func stopStream(t *testing.T, s *Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{URL: "wss://feed.example.com"}
	cfg.applyDefaults()

	if cfg.PingInterval != 15*time.Second {
		t.Errorf("PingInterval = %v, want 15s", cfg.PingInterval)
	}
	if cfg.ReadTimeout != 60*time.Second {
		t.Errorf("ReadTimeout = %v, want 60s", cfg.ReadTimeout)
	}
	if cfg.ReconnectBaseDelay != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s", cfg.ReconnectBaseDelay)
	}
	if cfg.ReconnectMaxDelay != 60*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 60s", cfg.ReconnectMaxDelay)
	}

	// Explicit values survive.
	cfg = Config{PingInterval: 5 * time.Second}
	cfg.applyDefaults()
	if cfg.PingInterval != 5*time.Second {
		t.Errorf("PingInterval = %v, want the explicit 5s", cfg.PingInterval)
	}
}
