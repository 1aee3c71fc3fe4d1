package gateway

// Message types pushed to render-surface clients. Several messages queued
// for one client may be coalesced into a single websocket frame separated
// by newlines.
const (
	MsgFrame   = "frame"
	MsgPong    = "pong"
	MsgMetrics = "metrics"
)

// PongOut answers a client {"ping": N} keepalive.
type PongOut struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}

// MetricsOut is the periodic system metrics push.
type MetricsOut struct {
	Type    string        `json:"type"`
	Metrics SystemMetrics `json:"metrics"`
}

// HealthOut is the REST response type for /health.
type HealthOut struct {
	Status     string  `json:"status"`
	Clients    int     `json:"clients"`
	FrameSeq   int64   `json:"frame_seq"`
	Connected  bool    `json:"feed_connected"`
	StatusText string  `json:"status_text"`
	LatencyP50 float64 `json:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms"`
	LatencyP99 float64 `json:"latency_p99_ms"`
	UptimeSec  int64   `json:"uptime_sec"`
}
