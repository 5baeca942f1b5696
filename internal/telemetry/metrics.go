package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// GatewayRequestDuration tracks gateway request latency, shared across all
// gateway routes the way the teacher shares one HTTP duration histogram
// across every service.
var GatewayRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "bpinode",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Gateway request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "status"},
)

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared gateway duration histogram, and any
// component-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		GatewayRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
