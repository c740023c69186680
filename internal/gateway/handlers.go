package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the gateway routes on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.Serve(conn)
	})

	// REST: current render snapshot
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		var data []byte
		var encErr error
		err := hub.engine.Do(r.Context(), func() {
			data, encErr = json.Marshal(hub.engine.Store().Snapshot())
		})
		if err == nil {
			err = encErr
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	// REST: envelopes a client missed, by sequence number
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		q := r.URL.Query()
		from, err := strconv.ParseInt(q.Get("from"), 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		to := hub.Seq()
		if v := q.Get("to"); v != "" {
			if to, err = strconv.ParseInt(v, 10, 64); err != nil {
				http.Error(w, "invalid to", http.StatusBadRequest)
				return
			}
		}

		msgs := hub.Missed(from, to)
		out := make([]json.RawMessage, len(msgs))
		for i, m := range msgs {
			out[i] = m
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	// REST: gateway stats
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p50, p95, p99 := hub.Latency.Percentiles()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ws_clients":    hub.ClientCount(),
			"seq":           hub.Seq(),
			"cmd_p50_ms":    p50,
			"cmd_p95_ms":    p95,
			"cmd_p99_ms":    p99,
			"history_depth": hub.history.len(),
			"ts":            time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
