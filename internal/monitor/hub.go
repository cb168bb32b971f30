package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-EngineHost/internal/match"
	"github.com/park285/Cheese-EngineHost/internal/obslog"
)

const (
	subscriberBuffer = 64
	backlogSize      = 32
	writeTimeout     = 5 * time.Second
)

var _ match.Publisher = (*Hub)(nil)

type subscriber struct {
	id      int
	ch      chan match.GameEvent
	dropped atomic.Int64
}

// Hub fans game events out to websocket subscribers. Publish never blocks; a subscriber
// that falls behind loses events instead of stalling the game.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	backlog []match.GameEvent

	pingInterval time.Duration
	log          *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:         make(map[int]*subscriber),
		pingInterval: 30 * time.Second,
		log:          obslog.L().Named("monitor"),
		stopCh:       make(chan struct{}),
	}
}

func (h *Hub) Publish(ev match.GameEvent) {
	h.mu.Lock()
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > backlogSize {
		h.backlog = h.backlog[len(h.backlog)-backlogSize:]
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// subscribe registers a subscriber primed with the recent backlog.
func (h *Hub) subscribe() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &subscriber{id: h.nextID, ch: make(chan match.GameEvent, subscriberBuffer+backlogSize)}
	for _, ev := range h.backlog {
		s.ch <- ev
	}
	h.subs[s.id] = s
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	if n := s.dropped.Load(); n > 0 {
		h.log.Warn("monitor_events_dropped", zap.Int("subscriber", s.id), zap.Int64("dropped", n))
	}
}

// ServeWS streams events to one websocket client until it disconnects or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.log.Warn("monitor_ws_accept_error", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	s := h.subscribe()
	defer h.unsubscribe(s)
	h.log.Info("monitor_ws_connected", zap.Int("subscriber", s.id), zap.String("remote", r.RemoteAddr))

	// clients only listen; CloseRead answers control frames and reports the disconnect
	ctx := conn.CloseRead(r.Context())

	t := time.NewTicker(h.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			_ = conn.Close(websocket.StatusGoingAway, "shutdown")
			return
		case <-ctx.Done():
			return
		case ev := <-s.ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.log.Debug("monitor_ws_write_error", zap.Int("subscriber", s.id), zap.Error(err))
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Handler serves /ws, /metrics from gatherer and /healthz.
func (h *Hub) Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves Handler on addr until ctx is done.
func (h *Hub) Run(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.log.Info("monitor_listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}
