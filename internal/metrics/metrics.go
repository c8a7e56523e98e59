// Package metrics exposes Prometheus instrumentation for the streaming
// core, grounded on the constructor shape the teacher's
// internal/observability/metrics package uses (NewXMetrics(registry)).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric the encoder, decoder, session, and singer
// packages report to. A nil *Collector is always safe to call methods on
// (every method guards against it), matching the teacher's
// audiocore.MetricsCollector "disabled by default" pattern.
type Collector struct {
	chunksEncoded   *prometheus.CounterVec
	chunksDecoded   *prometheus.CounterVec
	placeholderSent *prometheus.CounterVec
	driftWarnings   prometheus.Counter
	codecErrors     *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	clientClock     *prometheus.GaugeVec
	serverClock     *prometheus.GaugeVec
	connectivity    prometheus.Gauge
}

// New creates a Collector and registers its metrics with registry.
func New(registry prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		chunksEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketbrigade_chunks_encoded_total",
			Help: "Number of chunks the encoder pipeline has emitted, by kind (audio|placeholder).",
		}, []string{"kind"}),
		chunksDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketbrigade_chunks_decoded_total",
			Help: "Number of chunks the decoder pipeline has emitted, by kind (audio|placeholder).",
		}, []string{"kind"}),
		placeholderSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketbrigade_placeholder_samples_total",
			Help: "Total placeholder samples emitted, by pipeline (encoder|decoder).",
		}, []string{"pipeline"}),
		driftWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketbrigade_drift_warnings_total",
			Help: "Non-fatal encoder drift-check violations (spec.md §4.4).",
		}),
		codecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketbrigade_codec_errors_total",
			Help: "Codec RPC failures, by pipeline and category.",
		}, []string{"pipeline", "category"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucketbrigade_codec_rpc_duration_seconds",
			Help:    "Codec worker RPC round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		clientClock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucketbrigade_client_clock_samples",
			Help: "Current client-referenced clock value, by pipeline.",
		}, []string{"pipeline"}),
		serverClock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucketbrigade_server_clock_samples",
			Help: "Current server-referenced clock value, by pipeline.",
		}, []string{"pipeline"}),
		connectivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bucketbrigade_connectivity",
			Help: "1 if the singer client has server connectivity, 0 if lost.",
		}),
	}

	collectors := []prometheus.Collector{
		c.chunksEncoded, c.chunksDecoded, c.placeholderSent, c.driftWarnings,
		c.codecErrors, c.rpcDuration, c.clientClock, c.serverClock, c.connectivity,
	}
	for _, coll := range collectors {
		if err := registry.Register(coll); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RecordEncoded(kind string) {
	if c == nil {
		return
	}
	c.chunksEncoded.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordDecoded(kind string) {
	if c == nil {
		return
	}
	c.chunksDecoded.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPlaceholderSamples(pipeline string, samples int64) {
	if c == nil || samples <= 0 {
		return
	}
	c.placeholderSent.WithLabelValues(pipeline).Add(float64(samples))
}

func (c *Collector) RecordDriftWarning() {
	if c == nil {
		return
	}
	c.driftWarnings.Inc()
}

func (c *Collector) RecordCodecError(pipeline, category string) {
	if c == nil {
		return
	}
	c.codecErrors.WithLabelValues(pipeline, category).Inc()
}

func (c *Collector) ObserveRPCDuration(pipeline string, seconds float64) {
	if c == nil {
		return
	}
	c.rpcDuration.WithLabelValues(pipeline).Observe(seconds)
}

func (c *Collector) SetClocks(pipeline string, clientClock, serverClock int64) {
	if c == nil {
		return
	}
	c.clientClock.WithLabelValues(pipeline).Set(float64(clientClock))
	c.serverClock.WithLabelValues(pipeline).Set(float64(serverClock))
}

func (c *Collector) SetConnectivity(up bool) {
	if c == nil {
		return
	}
	if up {
		c.connectivity.Set(1)
	} else {
		c.connectivity.Set(0)
	}
}
