package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks how the HTTP surface answers: status classes per API
// group, rejections by ledger error kind and rate limited requests.
type GatewayMetrics struct {
	responses  *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	throttles  *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// Gateway returns the process wide gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			responses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "gateway",
				Name:      "responses_total",
				Help:      "Responses by API group, method and status class.",
			}, []string{"group", "method", "class"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhbcdp",
				Subsystem: "gateway",
				Name:      "response_seconds",
				Help:      "Handler latency by API group.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"group"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "gateway",
				Name:      "rejections_total",
				Help:      "Ledger operations refused over HTTP by error kind.",
			}, []string{"kind"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests refused by a rate limit bucket.",
			}, []string{"bucket", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.responses,
			gatewayRegistry.latency,
			gatewayRegistry.rejections,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records a written response.
func (m *GatewayMetrics) Observe(group, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	m.responses.WithLabelValues(group, method, statusClass(status)).Inc()
	m.latency.WithLabelValues(group).Observe(d.Seconds())
}

// RecordRejection counts an error response by its ledger error kind
// ("solvency", "price", ...).
func (m *GatewayMetrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "internal"
	}
	m.rejections.WithLabelValues(kind).Inc()
}

// RecordThrottle counts a request refused by bucket.
func (m *GatewayMetrics) RecordThrottle(bucket, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(bucket, reason).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// KeeperMetrics captures the maintenance loop that drips, pokes and resets
// auctions.
type KeeperMetrics struct {
	runs     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	lastTick *prometheus.GaugeVec
}

// Keeper returns the singleton metrics registry for the keeper service.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "keeper",
				Name:      "tasks_total",
				Help:      "Keeper tasks segmented by task, collateral token and outcome.",
			}, []string{"task", "token", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhbcdp",
				Subsystem: "keeper",
				Name:      "tick_duration_seconds",
				Help:      "Duration of a full keeper pass over every collateral.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"keeper"}),
			lastTick: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhbcdp",
				Subsystem: "keeper",
				Name:      "last_tick_timestamp_seconds",
				Help:      "Unix time of the last completed keeper pass.",
			}, []string{"keeper"}),
		}
		prometheus.MustRegister(keeperRegistry.runs, keeperRegistry.latency, keeperRegistry.lastTick)
	})
	return keeperRegistry
}

// RecordTask counts one keeper task outcome.
func (m *KeeperMetrics) RecordTask(task, token string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(task, labelAsset(token), outcome).Inc()
}

// ObserveTick records a completed pass.
func (m *KeeperMetrics) ObserveTick(keeper string, started time.Time, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(keeper).Observe(d.Seconds())
	m.lastTick.WithLabelValues(keeper).Set(float64(started.Add(d).Unix()))
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(strings.ToUpper(asset))
	if trimmed == "" {
		return "UNKNOWN"
	}
	return trimmed
}
