package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream session and fetch metrics
var (
	// LoginsTotal counts handshakes by result (success/failure).
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacrosse_logins_total",
			Help: "Upstream login handshakes by result",
		},
		[]string{"result"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lacrosse_fetch_duration_seconds",
			Help:    "Duration of a full status fetch including any logins",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)
)

// Refresh coordinator metrics
var (
	// RefreshesTotal counts refresh decisions: cached, in_progress, success or failure.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacrosse_refreshes_total",
			Help: "Refresh requests by outcome",
		},
		[]string{"outcome"},
	)

	StaleDevicesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lacrosse_stale_devices_total",
			Help: "Devices marked unavailable because their data was too old",
		},
	)
)

// Publishing metrics
var (
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lacrosse_sink_errors_total",
			Help: "Failed publishes by sink",
		},
		[]string{"sink"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lacrosse_stream_clients",
			Help: "Connected websocket clients",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
