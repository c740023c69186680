// Package gateway streams a chart engine to remote renderers over WebSocket.
// Every layout request becomes a coalesced render snapshot broadcast, bus
// events are forwarded as they fire, and client commands (scroll, zoom,
// crosshair, pointer, indicator and overlay edits) are applied on the
// engine's loop.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"klinecore/internal/actionbus"
	"klinecore/internal/chart"
	"klinecore/internal/metrics"
)

// Engine is the chart a Hub serves.
type Engine interface {
	// Post runs fn on the engine loop.
	Post(fn func())
	// Do runs fn on the engine loop and waits for it.
	Do(ctx context.Context, fn func()) error
	// Store is the engine; only touch it from functions run on the loop.
	Store() *chart.Store
}

var forwardedEvents = []actionbus.Type{
	actionbus.VisibleRangeChange,
	actionbus.Scroll,
	actionbus.Zoom,
	actionbus.CrosshairChange,
	actionbus.TooltipFeatureClick,
}

// Hub manages WebSocket clients of one chart.
type Hub struct {
	engine  Engine
	log     *slog.Logger
	metrics *metrics.Metrics
	Latency *LatencyTracker

	history *history

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// loop-owned
	snapshotPending bool
}

// NewHub creates a Hub for engine. m may be nil.
func NewHub(engine Engine, log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		engine:  engine,
		log:     log.With("component", "gateway"),
		metrics: m,
		Latency: NewLatencyTracker(4096),
		history: newHistory(500),
		clients: make(map[*Client]bool),
	}
}

// Attach subscribes the hub to the engine's bus and layout hook. It must run
// on the engine loop.
func (h *Hub) Attach() {
	store := h.engine.Store()
	for _, typ := range forwardedEvents {
		channel := eventPrefix + string(typ)
		store.Bus().Subscribe(typ, func(payload any) {
			data, err := json.Marshal(payload)
			if err != nil {
				h.log.Error("encode event", "type", string(typ), "error", err)
				return
			}
			h.Broadcast(channel, data)
		})
	}
	store.SetLayoutHook(h.onLayout)
}

// onLayout coalesces layout requests into one snapshot per loop pass.
func (h *Hub) onLayout(chart.LayoutRequest) {
	if h.snapshotPending {
		return
	}
	h.snapshotPending = true
	h.engine.Post(h.flushSnapshot)
}

func (h *Hub) flushSnapshot() {
	h.snapshotPending = false
	data, err := json.Marshal(h.engine.Store().Snapshot())
	if err != nil {
		h.log.Error("encode snapshot", "error", err)
		return
	}
	h.Broadcast(ChannelSnapshot, data)
}

// Broadcast sends data on channel to every client. Slow clients drop the
// message; the sequence number lets them detect the gap and backfill.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	env := buildEnvelope(channel, data, time.Now(), seq)
	h.history.push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.queue(env) {
			h.metrics.ObserveGatewayDrop()
		}
	}
}

// Missed returns buffered envelopes with from <= seq <= to.
func (h *Hub) Missed(from, to int64) [][]byte {
	return h.history.between(from, to)
}

// Seq returns the last broadcast sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve registers conn as a client, sends it the current snapshot and starts
// its pumps.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := newClient(h, conn)
	h.add(c)
	h.engine.Post(func() {
		data, err := json.Marshal(h.engine.Store().Snapshot())
		if err != nil {
			h.log.Error("encode snapshot", "error", err)
			return
		}
		c.trySend(buildEnvelope(ChannelSnapshot, data, time.Now(), h.Seq()))
	})
	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetGatewayClients(n)
	h.log.Info("client connected", "clients", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.metrics.SetGatewayClients(n)
	h.log.Info("client disconnected", "clients", n)
}

// dispatch applies cmd on the loop and reports failures to c.
func (h *Hub) dispatch(c *Client, cmd Command) {
	h.metrics.ObserveGatewayCommand(cmd.Type)
	received := time.Now()
	h.engine.Post(func() {
		err := cmd.Apply(h.engine.Store())
		h.Latency.Record(time.Since(received))
		if err != nil {
			h.log.Debug("command rejected", "type", cmd.Type, "error", err)
			c.sendError(cmd.ReqID, err)
		}
	})
}
