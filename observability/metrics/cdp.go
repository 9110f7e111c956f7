package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CDPMetrics tracks facade operations, liquidations and per collateral
// totals.
type CDPMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	liquidations   *prometheus.CounterVec
	activeAuctions *prometheus.GaugeVec
	debt           *prometheus.GaugeVec
	locked         *prometheus.GaugeVec
}

var (
	cdpOnce     sync.Once
	cdpRegistry *CDPMetrics
)

// CDP returns the lazily-initialised facade metrics registry.
func CDP() *CDPMetrics {
	cdpOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "facade",
				Name:      "operations_total",
				Help:      "Facade operations segmented by operation, collateral token and outcome.",
			}, []string{"op", "token", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhbcdp",
				Subsystem: "facade",
				Name:      "operation_seconds",
				Help:      "Latency of facade operations including the state commit.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			}, []string{"op"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbcdp",
				Subsystem: "dog",
				Name:      "liquidations_total",
				Help:      "Positions handed to auction per collateral token.",
			}, []string{"token"}),
			activeAuctions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhbcdp",
				Subsystem: "clip",
				Name:      "active_auctions",
				Help:      "Running auctions per collateral token.",
			}, []string{"token"}),
			debt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhbcdp",
				Subsystem: "vat",
				Name:      "debt",
				Help:      "Outstanding debt per collateral token in stable units.",
			}, []string{"token"}),
			locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhbcdp",
				Subsystem: "vat",
				Name:      "collateral_locked",
				Help:      "Collateral escrowed per token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.latency,
			cdpRegistry.liquidations,
			cdpRegistry.activeAuctions,
			cdpRegistry.debt,
			cdpRegistry.locked,
		)
	})
	return cdpRegistry
}

func normalizeToken(token string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(token))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// RecordOperation counts a facade call and observes its latency.
func (m *CDPMetrics) RecordOperation(op, token string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, normalizeToken(token), outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *CDPMetrics) RecordLiquidation(token string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normalizeToken(token)).Inc()
}

func (m *CDPMetrics) SetActiveAuctions(token string, count int) {
	if m == nil {
		return
	}
	m.activeAuctions.WithLabelValues(normalizeToken(token)).Set(float64(count))
}

// SetDebt records the debt of token given in rad.
func (m *CDPMetrics) SetDebt(token string, rad *big.Int) {
	if m == nil {
		return
	}
	m.debt.WithLabelValues(normalizeToken(token)).Set(scaled(rad, 45))
}

// SetLocked records the escrowed collateral of token given in wad.
func (m *CDPMetrics) SetLocked(token string, wad *big.Int) {
	if m == nil {
		return
	}
	m.locked.WithLabelValues(normalizeToken(token)).Set(scaled(wad, 18))
}

func scaled(x *big.Int, decimals int) float64 {
	if x == nil {
		return 0
	}
	denom := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x), denom).Float64()
	return f
}
