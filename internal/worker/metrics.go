package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeRemoved       = "removed"
	outcomeRemovedOrphan = "removed_orphan"
	outcomeSkippedLive   = "skipped_live"
	outcomeFailed        = "failed"
	outcomeInvalid       = "invalid"
)

type metrics struct {
	registry     *prometheus.Registry
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	activeTasks  prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgsvc_worker_tasks_total",
			Help: "Stale file cleanup tasks by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgsvc_worker_task_duration_seconds",
			Help:    "Time spent handling each cleanup task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imgsvc_worker_active_tasks",
			Help: "Cleanup tasks currently being handled.",
		}),
	}

	registry.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.activeTasks,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
