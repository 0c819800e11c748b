package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"xficredit/core/events"
	"xficredit/core/types"
	"xficredit/observability"
	"xficredit/observability/metrics"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// Hub fans events out to websocket subscribers. A subscriber that cannot keep
// up is disconnected rather than slowing the emitting ledger.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	logger  *slog.Logger
	metrics *observability.EventMetricsRegistry
}

type subscriber struct {
	ch      chan *types.Event
	evicted chan struct{}
	once    sync.Once
}

func (s *subscriber) evict() {
	s.once.Do(func() { close(s.evicted) })
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uint64]*subscriber), logger: logger, metrics: observability.Events()}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	h.metrics.RecordEmitted(evt.EventType())
	flat := events.Flatten(evt)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- flat.Clone():
		default:
			sub.evict()
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel must be called once.
func (h *Hub) Subscribe() (<-chan *types.Event, <-chan struct{}, func()) {
	sub := &subscriber{ch: make(chan *types.Event, streamBuffer), evicted: make(chan struct{})}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()
	return sub.ch, sub.evicted, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Subscribers reports the connected subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "stream_unavailable"})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	metrics.HTTP().StreamConnected()
	defer metrics.HTTP().StreamDisconnected()

	ctx := conn.CloseRead(r.Context())
	ch, evicted, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-evicted:
			_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case evt := <-ch:
			if err := writeEvent(ctx, conn, evt); err != nil {
				if websocket.CloseStatus(err) == -1 {
					s.logger.Debug("stream write failed", "error", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, evt)
}
