// Package metrics exposes command, replication and snapshot measurements
// to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exstrkv/internal/exstring"
)

const namespace = "exstrkv"

// KeySource reports the size of the keyspace at scrape time.
type KeySource interface {
	Len() int
	MemUsage() int
}

type Collector struct {
	registry *prometheus.Registry

	commands         *prometheus.CounterVec
	commandLatency   *prometheus.HistogramVec
	commitlogAppends *prometheus.CounterVec
	snapshotLatency  prometheus.Histogram
	snapshotRows     prometheus.Gauge
	snapshotFailures prometheus.Counter
}

// New builds a collector on its own registry. src may be nil, in which case
// the keyspace gauges are not registered.
func New(src KeySource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command and result.",
		}, []string{"command", "result"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a command, including the commit log append.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"command"}),
		commitlogAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commitlog_appends_total",
			Help:      "Records appended to the commit log, by result.",
		}, []string{"result"}),
		snapshotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time taken to take and store a snapshot or compact the commit log.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		snapshotRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_rows",
			Help:      "Rows written by the most recent successful snapshot.",
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshots or compactions that failed.",
		}),
	}

	c.registry.MustRegister(
		c.commands,
		c.commandLatency,
		c.commitlogAppends,
		c.snapshotLatency,
		c.snapshotRows,
		c.snapshotFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		c.Track(src)
	}
	return c
}

// Track registers the keyspace gauges for src. It may be called once, after
// New, when src itself needs the collector to be built.
func (c *Collector) Track(src KeySource) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Keys currently stored.",
		}, func() float64 { return float64(src.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Approximate bytes held by stored keys and values.",
		}, func() float64 { return float64(src.MemUsage()) }),
	)
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	var cmdErr *exstring.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Kind.String()
	}
	return "error"
}

// ObserveCommand implements exstring.Observer.
func (c *Collector) ObserveCommand(name string, err error, elapsed time.Duration) {
	c.commands.WithLabelValues(name, result(err)).Inc()
	c.commandLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveReplication implements exstring.Observer.
func (c *Collector) ObserveReplication(records int, err error) {
	c.commitlogAppends.WithLabelValues(result(err)).Add(float64(records))
}

// ObserveSnapshot implements engine.SnapshotObserver.
func (c *Collector) ObserveSnapshot(rows int, elapsed time.Duration, err error) {
	c.snapshotLatency.Observe(elapsed.Seconds())
	if err != nil {
		c.snapshotFailures.Inc()
		return
	}
	c.snapshotRows.Set(float64(rows))
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
