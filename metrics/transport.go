package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// TransportMetrics instruments one transport. A nil *TransportMetrics is valid
// and records nothing.
type TransportMetrics struct {
	sends      *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	streams    prometheus.Gauge
	clears     prometheus.Counter
}

// NewTransportMetrics registers the transport collectors. network distinguishes
// the ring transport from the shard transport of the same process.
func NewTransportMetrics(reg prometheus.Registerer, network string) *TransportMetrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"network": network}, reg))
	return &TransportMetrics{
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_sends_total",
			Help: "Outbound requests by route and outcome.",
		}, []string{"route", "outcome"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_dispatches_total",
			Help: "Control-plane requests dispatched to the query handler.",
		}, []string{"route", "outcome"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_record_bytes_total",
			Help: "Data-plane bytes by direction.",
		}, []string{"direction"}),
		streams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transport_registry_entries",
			Help: "Streams waiting in the registry for a producer or a consumer.",
		}),
		clears: factory.NewCounter(prometheus.CounterOpts{
			Name: "transport_registry_clears_total",
			Help: "Times the stream registry was cleared at the end of a query.",
		}),
	}
}

func (m *TransportMetrics) ObserveSend(route string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(route, outcome(err)).Inc()
}

func (m *TransportMetrics) ObserveDispatch(route string, err error) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(route, outcome(err)).Inc()
}

func (m *TransportMetrics) AddBytesSent(n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("sent").Add(float64(n))
}

func (m *TransportMetrics) AddBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("received").Add(float64(n))
}

func (m *TransportMetrics) SetRegistryEntries(n int) {
	if m == nil {
		return
	}
	m.streams.Set(float64(n))
}

func (m *TransportMetrics) IncClears() {
	if m == nil {
		return
	}
	m.clears.Inc()
}

// QueryMetrics instruments the query processor.
type QueryMetrics struct {
	queries  *prometheus.CounterVec
	records  prometheus.Counter
	duration prometheus.Histogram
}

func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	factory := promauto.With(reg)
	return &QueryMetrics{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queries_total",
			Help: "Queries by final status.",
		}, []string{"status"}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_records_processed_total",
			Help: "Records received from peers while running queries.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "query_run_seconds",
			Help:    "Time from receiving inputs to protocol completion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (m *QueryMetrics) ObserveQuery(status string, seconds float64) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
}

func (m *QueryMetrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.records.Add(float64(n))
}
