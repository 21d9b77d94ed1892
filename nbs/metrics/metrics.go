// Package metrics publishes Prometheus collectors for an nbs.Facade.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the leading part of every metric this package publishes.
const namespace = "nbs"

// Metrics is a set of Prometheus collectors tracking index and file
// activity for a single Facade. The zero value is not usable; construct
// with New. A nil *Metrics is always safe to use: every caller in this
// module checks for nil before touching it, so Facade/Index construction
// never requires metrics.
type Metrics struct {
	labels prometheus.Labels

	SidecarsLoaded prometheus.Counter
	ItemsLoaded    prometheus.Gauge
	QueriesServed  *prometheus.CounterVec
	PacketsServed  *prometheus.CounterVec
	PacketMisses   prometheus.Counter
	BytesWritten   prometheus.Counter
	PacketsWritten prometheus.Counter
}

// New builds a Metrics with the given constant labels (e.g. a facade or
// dataset name) attached to every collector.
func New(labels prometheus.Labels) *Metrics {
	return &Metrics{
		labels: labels,
		SidecarsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "sidecars_loaded_total",
			Help:        "Number of sidecar files successfully loaded into an index.",
			ConstLabels: labels,
		}),
		ItemsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "index",
			Name:        "items_loaded",
			Help:        "Total number of index records currently held in memory.",
			ConstLabels: labels,
		}),
		QueriesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reader",
			Name:        "queries_served_total",
			Help:        "Number of Facade query calls, labeled by kind (types, timestamp_range, get_packets, next_timestamp, ...).",
			ConstLabels: labels,
		}, []string{"op"}),
		PacketsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reader",
			Name:        "packets_served_total",
			Help:        "Number of packets returned by a get-packets style query.",
			ConstLabels: labels,
		}, []string{"op"}),
		PacketMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reader",
			Name:        "packet_misses_total",
			Help:        "Number of get-packet-by-index queries whose index was out of range for the key.",
			ConstLabels: labels,
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "writer",
			Name:        "bytes_written_total",
			Help:        "Number of main-file bytes appended by a writer.",
			ConstLabels: labels,
		}),
		PacketsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "writer",
			Name:        "packets_written_total",
			Help:        "Number of packets appended by a writer.",
			ConstLabels: labels,
		}),
	}
}

// PrometheusCollectors satisfies the common PrometheusCollector interface
// used to register a group of related collectors in one call.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.SidecarsLoaded,
		m.ItemsLoaded,
		m.QueriesServed,
		m.PacketsServed,
		m.PacketMisses,
		m.BytesWritten,
		m.PacketsWritten,
	}
}
