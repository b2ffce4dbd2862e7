package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradewire/accountsync/internal/metrics"
)

// Config holds feed stream settings.
type Config struct {
	// URL is the feed websocket endpoint.
	URL string

	// Token authenticates the stream.
	Token string

	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration

	// ReadTimeout is how long the stream may stay silent before it is
	// considered stale and redialed.
	ReadTimeout time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the redial backoff.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// DefaultConfig returns the default feed configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval:       15 * time.Second,
		ReadTimeout:        60 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
}

// EventHandler receives instance state transitions decoded from the feed.
// Calls arrive from a single goroutine in wire order.
type EventHandler interface {
	OnConnected(instanceID string, replicas int)
	OnDisconnected(instanceID string)
	OnStreamClosed(instanceID string)
}

// stateEvent is the wire format of a feed frame.
type stateEvent struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Replicas   int    `json:"replicas"`
}

// Stream maintains one websocket to the feed for one account, decoding
// instance state frames into EventHandler calls. It redials with
// exponential backoff and synthesizes stream-closed events for instances
// that were live when the socket dropped.
type Stream struct {
	cfg       Config
	accountID string
	handler   EventHandler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	connected bool
	seen      map[string]struct{}
	sessions  int
}

// NewStream creates a feed stream for the account. Events are delivered to
// handler from a single goroutine.
func NewStream(cfg Config, accountID string, handler EventHandler, logger *slog.Logger) *Stream {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Stream{
		cfg:       cfg,
		accountID: accountID,
		handler:   handler,
		logger:    logger.With("account", accountID),
		seen:      make(map[string]struct{}),
	}
}

// Start begins the dial/read/redial loop.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("feed url is required")
	}
	if _, err := url.Parse(s.cfg.URL); err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()

	s.logger.Info("feed stream started", "url", s.cfg.URL)
	return nil
}

// Stop shuts the stream down, waiting for the run loop up to ctx.
func (s *Stream) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, abandoning feed stream")
	}

	s.logger.Info("feed stream stopped")
	return nil
}

// IsConnected reports whether the socket is currently up.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// StreamStats is a snapshot for health reporting.
type StreamStats struct {
	Connected     bool
	LiveInstances int
	Sessions      int
}

// Stats returns current stream statistics.
func (s *Stream) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStats{
		Connected:     s.connected,
		LiveInstances: len(s.seen),
		Sessions:      s.sessions,
	}
}

// run dials and reads until the context is canceled, backing off between
// failed sessions.
func (s *Stream) run() {
	defer s.wg.Done()

	wait := s.cfg.ReconnectBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			metrics.FeedSessions.WithLabelValues("dial_error").Inc()
			s.logger.Warn("feed dial failed", "error", err, "retry_in", wait)

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}

			wait *= 2
			if wait > s.cfg.ReconnectMaxDelay {
				wait = s.cfg.ReconnectMaxDelay
			}
			continue
		}

		wait = s.cfg.ReconnectBaseDelay
		metrics.FeedSessions.WithLabelValues("ok").Inc()

		s.readSession(conn)

		// Instances that were live when the socket dropped never sent
		// their own close frame; synthesize it so state stays honest.
		s.synthesizeStreamClosed()

		select {
		case <-s.ctx.Done():
			return
		default:
			metrics.FeedReconnects.Inc()
		}
	}
}

// dial opens the websocket and marks the stream connected.
func (s *Stream) dial() (*websocket.Conn, error) {
	sessionID := uuid.NewString()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Session-Id", sessionID)
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	streamURL := s.cfg.URL + "?account=" + url.QueryEscape(s.accountID)
	conn, _, err := dialer.DialContext(s.ctx, streamURL, header)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.connected = true
	s.sessions++
	s.mu.Unlock()

	s.logger.Debug("feed connected", "session", sessionID)
	return conn, nil
}

// readSession reads frames until the socket fails or the context ends.
func (s *Stream) readSession(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	lastSeen := time.Now()
	var seenMu sync.Mutex
	touch := func() {
		seenMu.Lock()
		lastSeen = time.Now()
		seenMu.Unlock()
	}

	conn.SetPingHandler(func(data string) error {
		touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		touch()
		return nil
	})

	// Heartbeat goroutine pings and watches for staleness.
	done := make(chan struct{})
	defer close(done)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					s.logger.Debug("failed to send ping", "error", err)
				}

				seenMu.Lock()
				stale := time.Since(lastSeen) > s.cfg.ReadTimeout
				seenMu.Unlock()

				if stale {
					s.logger.Warn("feed stale, closing socket",
						"last_seen", lastSeen,
						"timeout", s.cfg.ReadTimeout,
					)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Warn("feed read failed", "error", err)
			}
			return
		}
		touch()
		s.handleFrame(data)
	}
}

// handleFrame decodes one frame and dispatches it.
func (s *Stream) handleFrame(data []byte) {
	var ev stateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		metrics.FeedEvents.WithLabelValues("malformed").Inc()
		s.logger.Warn("malformed feed frame", "error", err)
		return
	}

	switch ev.Type {
	case "connected":
		s.mu.Lock()
		s.seen[ev.InstanceID] = struct{}{}
		s.mu.Unlock()
		metrics.FeedEvents.WithLabelValues("connected").Inc()
		s.handler.OnConnected(ev.InstanceID, ev.Replicas)

	case "disconnected":
		s.mu.Lock()
		delete(s.seen, ev.InstanceID)
		s.mu.Unlock()
		metrics.FeedEvents.WithLabelValues("disconnected").Inc()
		s.handler.OnDisconnected(ev.InstanceID)

	case "stream_closed":
		s.mu.Lock()
		delete(s.seen, ev.InstanceID)
		s.mu.Unlock()
		metrics.FeedEvents.WithLabelValues("stream_closed").Inc()
		s.handler.OnStreamClosed(ev.InstanceID)

	default:
		metrics.FeedEvents.WithLabelValues("unknown").Inc()
		s.logger.Debug("unhandled feed frame", "type", ev.Type)
	}
}

// synthesizeStreamClosed emits stream-closed for every instance still
// marked live from the session that just ended.
func (s *Stream) synthesizeStreamClosed() {
	s.mu.Lock()
	live := make([]string, 0, len(s.seen))
	for id := range s.seen {
		live = append(live, id)
	}
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range live {
		metrics.FeedEvents.WithLabelValues("synthetic_stream_closed").Inc()
		s.logger.Debug("synthesizing stream close", "instance", id)
		s.handler.OnStreamClosed(id)
	}
}
