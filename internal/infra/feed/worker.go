package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	maxRetries   = 10 // backoff attempt cap
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

var errNotConnected = errors.New("feed not connected")

// message is one frame of the opportunity feed.
type message struct {
	Type        string   `json:"type"` // "opportunity"
	Ticker      string   `json:"ticker"`
	Price       float64  `json:"price"`
	Probability float64  `json:"probability"`
	Context     []string `json:"context"`
	Timestamp   int64    `json:"ts"` // unix millis
}

// Worker streams opportunities from a websocket feed and hands each one to sink.
type Worker struct {
	url     string
	sink    func(domain.Opportunity)
	metrics *infra.Metrics
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a feed worker for url.
func NewWorker(url string, sink func(domain.Opportunity), metrics *infra.Metrics) *Worker {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Worker{
		url:     url,
		sink:    sink,
		metrics: metrics,
		logger:  slog.Default().With("component", "feed"),
	}
}

// Connect starts the connection loop; it reconnects with backoff until Disconnect.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// IsConnected reports whether a socket is currently open.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := infra.CalculateBackoff(attempt)
			w.logger.Warn("feed connection failed", "error", err, "attempt", attempt, "retry_in", delay)
			attempt = min(attempt+1, maxRetries)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		w.readLoop(ctx)
		w.logger.Info("feed disconnected, reconnecting")
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.url, make(http.Header))
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	w.logger.Info("feed connected", "url", w.url)
	return nil
}

func (w *Worker) subscribe() error {
	b, _ := json.Marshal(map[string]any{
		"op":      "subscribe",
		"channel": "opportunities",
		"ticket":  fmt.Sprintf("go-%d", time.Now().UnixNano()),
	})
	return w.writeFrame(websocket.TextMessage, b)
}

func (w *Worker) writeFrame(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return errNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go w.pingLoop(pingCtx)

	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *Worker) handleMessage(raw []byte) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		w.logger.Debug("malformed feed frame", "error", err, "size", len(raw))
		return
	}
	if m.Type != "opportunity" {
		return // acks, heartbeats
	}

	ts := time.Now().UTC()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).UTC()
	}
	w.sink(domain.Opportunity{
		Ticker:       m.Ticker,
		Price:        m.Price,
		Probability:  m.Probability,
		Context:      m.Context,
		DiscoveredAt: ts,
	})
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// Disconnect stops the worker and waits for its goroutines.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
