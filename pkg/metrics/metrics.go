// Package metrics exposes Prometheus counters and gauges for the order
// path and the consensus loop. A single Metrics value is shared across
// components; the registry behind it is served by the API's /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	OrdersAdmitted prometheus.Counter
	OrdersRejected *prometheus.CounterVec
	PoolResident   prometheus.Gauge

	RoundsCommitted  prometheus.Counter
	RoundsAbandoned  *prometheus.CounterVec
	BundlesSubmitted prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		OrdersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "angstrom",
			Name:      "orders_admitted_total",
			Help:      "Orders accepted into the resident pool.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "angstrom",
			Name:      "orders_rejected_total",
			Help:      "Orders refused at admission, by reason.",
		}, []string{"reason"}),
		PoolResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "angstrom",
			Name:      "pool_resident_orders",
			Help:      "Orders currently resident in the pool.",
		}),
		RoundsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "angstrom",
			Name:      "rounds_committed_total",
			Help:      "Consensus rounds that produced a quorum-signed bundle.",
		}),
		RoundsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "angstrom",
			Name:      "rounds_abandoned_total",
			Help:      "Consensus rounds abandoned before commit, by reason.",
		}, []string{"reason"}),
		BundlesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "angstrom",
			Name:      "bundles_submitted_total",
			Help:      "Bundles sent to the settlement contract.",
		}),
	}
	reg.MustRegister(
		m.OrdersAdmitted, m.OrdersRejected, m.PoolResident,
		m.RoundsCommitted, m.RoundsAbandoned, m.BundlesSubmitted,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RoundCommitted and RoundAbandoned satisfy the consensus engine's
// observability hook.
func (m *Metrics) RoundCommitted()              { m.RoundsCommitted.Inc() }
func (m *Metrics) RoundAbandoned(reason string) { m.RoundsAbandoned.WithLabelValues(reason).Inc() }
