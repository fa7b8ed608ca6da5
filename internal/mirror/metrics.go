package mirror

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gatewayStatuses = []GatewayStatus{
	GatewayStatusUnknown,
	GatewayStatusOnline,
	GatewayStatusOffline,
	GatewayStatusError,
}

// Metrics holds all Prometheus metrics for the dashboard backend
type Metrics struct {
	// Counters
	SyncsTotal         prometheus.CounterVec
	SyncedRecordsTotal prometheus.CounterVec
	ErrorsTotal        prometheus.CounterVec
	ProxyRequestsTotal prometheus.CounterVec

	// Gauges
	GatewayStatus prometheus.GaugeVec
	EventClients  prometheus.Gauge

	// Histograms
	SyncDuration prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics initializes global Prometheus metrics
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SyncsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawdash_syncs_total",
					Help: "Total sync operations by kind and outcome",
				},
				[]string{"kind", "status"},
			),
			SyncedRecordsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawdash_synced_records_total",
					Help: "Records written to the local cache by kind",
				},
				[]string{"kind"},
			),
			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawdash_errors_total",
					Help: "Total errors by component",
				},
				[]string{"component", "type"},
			),
			ProxyRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawdash_proxy_requests_total",
					Help: "Gateway passthrough requests by outcome",
				},
				[]string{"status"},
			),
			GatewayStatus: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "clawdash_gateway_status",
					Help: "1 for the current health status of each gateway",
				},
				[]string{"gateway", "status"},
			),
			EventClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "clawdash_event_clients",
					Help: "Connected event stream clients",
				},
			),
			SyncDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "clawdash_sync_duration_seconds",
					Help:    "Sync duration including fetch and reconcile",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
		}
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

func (m *Metrics) RecordSync(kind SyncKind, status string, seconds float64, records int) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(string(kind), status).Inc()
	m.SyncDuration.WithLabelValues(string(kind)).Observe(seconds)
	if records > 0 {
		m.SyncedRecordsTotal.WithLabelValues(string(kind)).Add(float64(records))
	}
}

// SetGatewayStatus marks status as current for gatewayID and clears the others.
func (m *Metrics) SetGatewayStatus(gatewayID string, status GatewayStatus) {
	if m == nil {
		return
	}
	for _, s := range gatewayStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.GatewayStatus.WithLabelValues(gatewayID, string(s)).Set(v)
	}
}

// ForgetGateway drops the status series of a removed gateway.
func (m *Metrics) ForgetGateway(gatewayID string) {
	if m == nil {
		return
	}
	m.GatewayStatus.DeletePartialMatch(prometheus.Labels{"gateway": gatewayID})
}

func (m *Metrics) RecordError(component string, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (m *Metrics) RecordProxy(status string) {
	if m == nil {
		return
	}
	m.ProxyRequestsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetEventClients(n int) {
	if m == nil {
		return
	}
	m.EventClients.Set(float64(n))
}
