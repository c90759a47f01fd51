// Package metrics registers the Prometheus collectors shared by the feed, the engine and execution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frames_total", Help: "Data frames received from the streaming feed"},
		[]string{"tr_id"},
	)
	FrameErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frame_errors_total", Help: "Frames dropped because they could not be parsed"},
		[]string{"reason"},
	)
	MarketEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "market_events_total", Help: "Market events processed by the dispatcher"},
		[]string{"source"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Actionable signals persisted"},
		[]string{"type"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "reconnects_total", Help: "Reconnect attempts scheduled by the feed"},
	)
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "connection_state", Help: "Current feed connection state as its numeric code"},
	)
)

func init() {
	prometheus.MustRegister(FramesTotal, FrameErrorsTotal, MarketEventsTotal, SignalsTotal, OrdersTotal, ReconnectsTotal, ConnectionState)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
