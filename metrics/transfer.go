package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/transfer"
)

// TransferMetrics counts transfer engine activity. It implements
// transfer.Observer, so wiring it is one WithObserver option; the gateway
// additionally feeds RecordProxyPart from its relay part-upload handler.
type TransferMetrics struct {
	active     prometheus.Gauge
	transfers  *prometheus.CounterVec
	parts      *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	downgrades prometheus.Counter
}

// NewTransferMetrics registers transfer collectors on reg.
func NewTransferMetrics(reg *prometheus.Registry) *TransferMetrics {
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "active",
		Help:      "Current number of running transfers.",
	})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "transfers_total",
		Help:      "Total number of finished transfers, partitioned by terminal state.",
	}, []string{"state"})
	parts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "parts_total",
		Help:      "Total number of uploaded parts, partitioned by strategy.",
	}, []string{"strategy"})
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Total part payload bytes uploaded, partitioned by strategy.",
	}, []string{"strategy"})
	downgrades := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "downgrades_total",
		Help:      "Total number of direct-to-proxy strategy downgrades.",
	})

	reg.MustRegister(active, transfers, parts, bytes, downgrades)

	return &TransferMetrics{
		active:     active,
		transfers:  transfers,
		parts:      parts,
		bytes:      bytes,
		downgrades: downgrades,
	}
}

// TransferStarted implements transfer.Observer.
func (t *TransferMetrics) TransferStarted(string, int64) {
	t.active.Inc()
}

// PartUploaded implements transfer.Observer.
func (t *TransferMetrics) PartUploaded(_ string, strategy lighter.Strategy, bytes int64) {
	t.parts.WithLabelValues(string(strategy)).Inc()
	t.bytes.WithLabelValues(string(strategy)).Add(float64(bytes))
}

// StrategyDowngraded implements transfer.Observer.
func (t *TransferMetrics) StrategyDowngraded(string) {
	t.downgrades.Inc()
}

// TransferFinished implements transfer.Observer.
func (t *TransferMetrics) TransferFinished(_ string, state transfer.State) {
	t.active.Dec()
	t.transfers.WithLabelValues(string(state)).Inc()
}

// RecordProxyPart counts one relayed part that reached the backend through
// the gateway's own upload endpoint rather than through a local Uploader.
func (t *TransferMetrics) RecordProxyPart(bytes int64) {
	t.PartUploaded("", lighter.StrategyProxy, bytes)
}
