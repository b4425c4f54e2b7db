package images

import (
	"time"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
)

const outcomeOK = "ok"

type Metrics struct {
	uploadsTotal      *prometheus.CounterVec
	uploadBytes       prometheus.Histogram
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	staleFilesTotal   *prometheus.CounterVec
}

// NewMetrics registers the image collectors on reg. A nil reg gets a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgsvc_uploads_total",
			Help: "Image uploads by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgsvc_upload_bytes",
			Help:    "Size of accepted uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgsvc_transforms_total",
			Help: "Transform requests by outcome.",
		}, []string{"outcome"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgsvc_transform_duration_seconds",
			Help:    "End-to-end transform latency including storage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgsvc_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"stage"}),
		staleFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgsvc_stale_files_total",
			Help: "Files left behind after a key change, by how they were handled.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.uploadsTotal,
		m.uploadBytes,
		m.transformsTotal,
		m.transformDuration,
		m.stageDuration,
		m.staleFilesTotal,
	)
	return m
}

func (m *Metrics) observeStage(stage pipeline.Stage, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeUpload(err error, size int) {
	m.uploadsTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.uploadBytes.Observe(float64(size))
	}
}

func (m *Metrics) observeTransform(err error, started time.Time) {
	label := outcome(err)
	m.transformsTotal.WithLabelValues(label).Inc()
	m.transformDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	return string(apperr.KindOf(err))
}
