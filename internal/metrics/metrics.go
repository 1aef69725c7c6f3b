package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

// Desk holds every desk collector. A nil *Desk is a valid no-op sink.
type Desk struct {
	fetches     *prometheus.CounterVec
	tableSize   prometheus.Gauge
	sessions    prometheus.Gauge
	recomputes  *prometheus.CounterVec
	exchanges   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
	executions  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Desk {
	d := &Desk{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapdesk_feed_fetches_total",
			Help: "Price source fetches by source and result.",
		}, []string{"source", "result"}),
		tableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swapdesk_price_table_assets",
			Help: "Distinct assets in the current price table.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swapdesk_sessions_active",
			Help: "Live swap sessions.",
		}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapdesk_recomputes_total",
			Help: "Amount derivations by trigger and whether a value was applied.",
		}, []string{"trigger", "result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapdesk_exchanges_total",
			Help: "Exchange submissions by result.",
		}, []string{"result"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swapdesk_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapdesk_executor_requests_total",
			Help: "Executor requests by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(d.fetches, d.tableSize, d.sessions, d.recomputes, d.exchanges, d.httpLatency, d.executions)
	}
	return d
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (d *Desk) ObserveFetch(source, result string) {
	if d == nil {
		return
	}
	d.fetches.WithLabelValues(source, result).Inc()
}

func (d *Desk) SetTableSize(n int) {
	if d == nil {
		return
	}
	d.tableSize.Set(float64(n))
}

func (d *Desk) SetActiveSessions(n int) {
	if d == nil {
		return
	}
	d.sessions.Set(float64(n))
}

func (d *Desk) ObserveRecompute(trigger swap.Trigger, applied bool) {
	if d == nil {
		return
	}
	result := "skipped"
	if applied {
		result = "applied"
	}
	d.recomputes.WithLabelValues(string(trigger), result).Inc()
}

func (d *Desk) ObserveExchange(result string) {
	if d == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	d.exchanges.WithLabelValues(result).Inc()
}

// ObserveHTTP records one request. status is the numeric response code.
func (d *Desk) ObserveHTTP(route string, status int, seconds float64) {
	if d == nil {
		return
	}
	d.httpLatency.WithLabelValues(route, statusClass(status)).Observe(seconds)
}

// ObserveExecution records one executor request outcome.
func (d *Desk) ObserveExecution(result string) {
	if d == nil {
		return
	}
	d.executions.WithLabelValues(result).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var _ swap.Metrics = (*Desk)(nil)
