package wsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"relaychat.com/pkg/xerr"
)

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conns",
		Help: "Registered websocket connections in this process",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_conn_open_total",
		Help: "Total websocket connections authenticated and registered",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_close_total",
		Help: "Total websocket connections closed, partitioned by reason",
	}, []string{"reason"})
	HandshakeRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_handshake_reject_total",
		Help: "Upgrades closed before registration",
	}, []string{"reason"}) // missing_token/invalid_token/upgrade

	FramesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_frames_in_total",
		Help: "Client frames received (pong excluded)",
	})
	FramesThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_frames_throttled_total",
		Help: "Client frames dropped by the per-connection rate limit",
	})
	MsgsOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_msgs_out_total",
		Help: "Frames written to connections",
	}, []string{"kind"}) // reply/push/ping
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_total",
		Help: "Frames dropped before reaching the socket",
	}, []string{"why"})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_write_errors_total",
		Help: "Total websocket write errors",
	})
	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_ping_sent_total",
		Help: "Keepalive pings queued",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_pong_recv_total",
		Help: "Keepalive pongs received",
	})

	BridgeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_requests_total",
		Help: "Frames forwarded to the business tier, by outcome code",
	}, []string{"code"})
	BridgeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_request_duration_seconds",
		Help:    "Latency of one bridge forward",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms ~ 8s
	})

	FanoutEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_entries_total",
		Help: "Fan-out log entries read, by result",
	}, []string{"result"}) // delivered/no_local_conn/parse_error/overflow
	FanoutPushTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_push_total",
		Help: "Fan-out payloads queued to local connections",
	})
	FanoutReadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_read_errors_total",
		Help: "Failed blocking reads against the fan-out log",
	})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(reason).Inc()
}

func OnReject(reason string) {
	HandshakeRejectTotal.WithLabelValues(reason).Inc()
}

func ObserveBridge(dur time.Duration, err error) {
	BridgeDuration.Observe(dur.Seconds())
	BridgeRequestsTotal.WithLabelValues(strconv.Itoa(xerr.Code(err))).Inc()
}
