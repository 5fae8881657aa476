// Package metrics exposes subwatch's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subwatch/internal/eventbus"
)

// Metrics owns a private registry. It implements syncer.Observer,
// notifier.Observer and supervisor.Observer.
type Metrics struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	pages         *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	recordsAdded  prometheus.Counter
	recordsPruned prometheus.Counter
	recordsTotal  prometheus.Gauge
	accounts      prometheus.Gauge
	lastCycle     prometheus.Gauge
	catalogSize   prometheus.Gauge
	catalogRuns   *prometheus.CounterVec
	notifiedKeys  prometheus.Gauge
	taskEvents    *prometheus.CounterVec
}

type Option func(*Metrics)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(ns string) Option {
	return func(m *Metrics) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithHistogramBuckets sets the cycle duration buckets (seconds).
func WithHistogramBuckets(b []float64) Option {
	return func(m *Metrics) {
		if len(b) > 0 {
			m.buckets = b
		}
	}
}

// WithProcessCollectors adds the Go runtime and process collectors.
func WithProcessCollectors() Option {
	return func(m *Metrics) {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace: "subwatch",
		buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		registry:  prometheus.NewRegistry(),
	}
	for _, o := range opts {
		o(m)
	}
	auto := promauto.With(m.registry)

	m.pages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "fetch_pages_total",
		Help:      "Pages fetched from the source by kind (history, catalog) and result.",
	}, []string{"kind", "result"})
	m.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "notifications_total",
		Help:      "Notification outcomes by stage (emit or delivery channel) and result.",
	}, []string{"stage", "result"})
	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cycles_total",
		Help:      "Monitor cycles by outcome class (ok, transient, corrupt_state, config).",
	}, []string{"class"})
	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of completed monitor cycles.",
		Buckets:   m.buckets,
	})
	m.recordsAdded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "records_added_total",
		Help:      "Records merged into the store.",
	})
	m.recordsPruned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "records_pruned_total",
		Help:      "Records removed by retention cleanup.",
	})
	m.recordsTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "records",
		Help:      "Records in the store after the last cycle.",
	})
	m.accounts = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "accounts",
		Help:      "Accounts in the roster during the last cycle.",
	})
	m.lastCycle = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time of the last completed cycle.",
	})
	m.catalogSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "catalog_problems",
		Help:      "Problems in the difficulty index after the last catalog run.",
	})
	m.catalogRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "catalog_runs_total",
		Help:      "Catalog ingestion runs by result (complete, stopped).",
	}, []string{"result"})
	m.notifiedKeys = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "notified_keys",
		Help:      "Keys held by the session's notified set.",
	})
	m.taskEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "task_events_total",
		Help:      "Supervised task failures by task and event (error, panic, restart).",
	}, []string{"task", "event"})
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObservePage(kind string, err error) {
	m.pages.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveNotify(stage string, err error) {
	m.notifications.WithLabelValues(stage, result(err)).Inc()
}

// ObserveCycle records one monitor cycle. A non-empty Class marks a failure.
func (m *Metrics) ObserveCycle(c eventbus.CycleInfo) {
	if c.Class != "" {
		m.cycles.WithLabelValues(c.Class).Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.cycleDuration.Observe(c.Took.Seconds())
	m.recordsAdded.Add(float64(c.Added))
	m.recordsPruned.Add(float64(c.Pruned))
	m.recordsTotal.Set(float64(c.Total))
	m.accounts.Set(float64(c.Accounts))
	m.lastCycle.SetToCurrentTime()
}

func (m *Metrics) ObserveCatalog(total int, stopped bool) {
	m.catalogSize.Set(float64(total))
	if stopped {
		m.catalogRuns.WithLabelValues("stopped").Inc()
		return
	}
	m.catalogRuns.WithLabelValues("complete").Inc()
}

func (m *Metrics) SetNotifiedKeys(n int) { m.notifiedKeys.Set(float64(n)) }

func (m *Metrics) ObserveTask(task, event string) {
	m.taskEvents.WithLabelValues(task, event).Inc()
}
