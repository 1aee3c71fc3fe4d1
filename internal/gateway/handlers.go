package gateway

import (
	"encoding/json"
	"net/http"
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
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the render-surface routes on mux:
//
//	/ws          frame stream
//	/api/frame   latest frame (204 before the first one)
//	/api/metrics system metrics snapshot
//	/health      gateway health
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade error", "err", err)
			return
		}
		hub.HandleWSRequest(conn)
	})

	mux.HandleFunc("/api/frame", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		f, ok := hub.LatestFrame()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(f.JSON())
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		m.LatencyDrop = hub.Latency.Evicted()
		json.NewEncoder(w).Encode(m)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		out := HealthOut{
			Status:    "ok",
			Clients:   hub.ClientCount(),
			UptimeSec: int64(time.Since(processStart).Seconds()),
		}
		out.LatencyP50, out.LatencyP95, out.LatencyP99 = hub.Latency.Percentiles()
		if f, ok := hub.LatestFrame(); ok {
			out.FrameSeq = f.Seq
			out.Connected = f.Status.Connected
			out.StatusText = f.Status.Text
		} else {
			out.Status = "starting"
		}
		json.NewEncoder(w).Encode(out)
	})
}
