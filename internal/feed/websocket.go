package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	ReadBufferSize  int
	WriteBufferSize int

	// IdleTimeout is the longest silence tolerated before the connection is
	// considered dead and redialed.
	IdleTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Subscribe, when set, is written as a text frame after every successful
	// dial.
	Subscribe []byte

	Headers http.Header
}

// DefaultWSConfig returns defaults suited to a ticker-rate price stream.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:             url,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		IdleTimeout:     30 * time.Second,
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      30 * time.Second,
		BackoffFactor:   2.0,
	}
}

// WSClient is a reconnecting WebSocket reader. Inbound frames are fanned out
// to subscribers; a dropped connection is redialed with exponential backoff.
type WSClient struct {
	cfg    WSConfig
	logger *slog.Logger

	connected atomic.Bool

	mu   sync.RWMutex
	conn *websocket.Conn

	subMu sync.RWMutex
	subs  []chan []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}

	// onReconnect runs after each successful redial (testing hook).
	onReconnect func()
}

// NewWSClient creates a client. Call Connect to start.
func NewWSClient(cfg WSConfig, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Connected reports whether the client currently holds a live connection.
func (ws *WSClient) Connected() bool { return ws.connected.Load() }

// Subscribe returns a channel receiving every inbound frame. Frames are
// dropped for a subscriber whose buffer is full.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 64)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Connect dials the endpoint and starts the read loop. It blocks until the
// first connection succeeds or fails.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(ctx); err != nil {
		ws.cancel()
		return err
	}
	ws.connected.Store(true)

	ws.wg.Add(2)
	go ws.readLoop(ctx)
	go func() {
		defer ws.wg.Done()
		<-ctx.Done()
		ws.mu.Lock()
		if ws.conn != nil {
			ws.conn.Close()
		}
		ws.mu.Unlock()
	}()
	return nil
}

// Close stops the read loop, closes the connection and then every
// subscriber channel. Close is idempotent.
func (ws *WSClient) Close() {
	ws.once.Do(func() {
		if ws.cancel != nil {
			ws.cancel()
		}
		ws.wg.Wait()
		ws.connected.Store(false)

		ws.subMu.Lock()
		for _, ch := range ws.subs {
			close(ch)
		}
		ws.subs = nil
		ws.subMu.Unlock()

		close(ws.done)
	})
}

// Done is closed once the client has shut down.
func (ws *WSClient) Done() <-chan struct{} { return ws.done }

func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:   ws.cfg.ReadBufferSize,
		WriteBufferSize:  ws.cfg.WriteBufferSize,
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}
	if len(ws.cfg.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, ws.cfg.Subscribe); err != nil {
			conn.Close()
			return err
		}
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ctx.Err(); err != nil {
		conn.Close()
		return err
	}
	ws.conn = conn
	return nil
}

// reconnect redials with exponential backoff until it succeeds or ctx ends.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.connected.Store(false)

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			ws.logger.Warn("feed: websocket redial failed", "url", ws.cfg.URL, "error", err, "retry_in", delay)
			delay = min(time.Duration(float64(delay)*ws.cfg.BackoffFactor), ws.cfg.BackoffMax)
			continue
		}

		ws.connected.Store(true)
		ws.logger.Info("feed: websocket reconnected", "url", ws.cfg.URL)
		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads frames until ctx ends. A read error or idle timeout
// triggers a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	defer ws.wg.Done()
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		if ws.cfg.IdleTimeout > 0 {
			c.SetReadDeadline(time.Now().Add(ws.cfg.IdleTimeout))
		}
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ws.logger.Warn("feed: websocket read failed, reconnecting", "url", ws.cfg.URL, "error", err)
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		ws.fanOut(msg)
	}
}

func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			ws.logger.Debug("feed: dropping frame for slow subscriber", "bytes", len(msg))
		}
	}
}
