// Package metrics provides Prometheus metrics for enrollment and attendance.
//
// All recorder methods are safe to call on a nil *Metrics so controllers
// can run without observability wired in.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan kinds used as the "kind" label.
const (
	KindEnrollment = "enrollment"
	KindAttendance = "attendance"
)

// Metrics contains the faceattend collectors.
type Metrics struct {
	enrollmentsTotal       *prometheus.CounterVec
	attendanceOutcomes     *prometheus.CounterVec
	scanDuration           *prometheus.HistogramVec
	framesProcessedTotal   *prometheus.CounterVec
	registryEmbeddingGauge prometheus.Gauge
}

// New creates the metrics and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.enrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceattend_enrollments_total",
			Help: "Total number of enrollment attempts by result",
		},
		[]string{"result"}, // result: success or an error code
	)

	m.attendanceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceattend_attendance_outcomes_total",
			Help: "Total number of per-identity attendance outcomes",
		},
		[]string{"action", "status"},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "faceattend_scan_duration_seconds",
			Help: "Time spent holding the camera per session",
			// 0.25s to 256s
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
		},
		[]string{"kind"},
	)

	m.framesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceattend_frames_processed_total",
			Help: "Total number of camera frames run through detection",
		},
		[]string{"kind"},
	)

	m.registryEmbeddingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceattend_registry_embeddings",
		Help: "Number of face embeddings in the registry",
	})
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.enrollmentsTotal.Describe(ch)
	m.attendanceOutcomes.Describe(ch)
	m.scanDuration.Describe(ch)
	m.framesProcessedTotal.Describe(ch)
	m.registryEmbeddingGauge.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.enrollmentsTotal.Collect(ch)
	m.attendanceOutcomes.Collect(ch)
	m.scanDuration.Collect(ch)
	m.framesProcessedTotal.Collect(ch)
	m.registryEmbeddingGauge.Collect(ch)
}

// RecordEnrollment records the result of one enrollment.
func (m *Metrics) RecordEnrollment(result string) {
	if m == nil {
		return
	}
	m.enrollmentsTotal.WithLabelValues(result).Inc()
}

// RecordAttendanceOutcome records one identity's ledger outcome.
func (m *Metrics) RecordAttendanceOutcome(action, status string) {
	if m == nil {
		return
	}
	m.attendanceOutcomes.WithLabelValues(action, status).Inc()
}

// RecordScanDuration records how long a session held the camera.
func (m *Metrics) RecordScanDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordFrame counts one processed frame.
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.framesProcessedTotal.WithLabelValues(kind).Inc()
}

// SetRegistryEmbeddings sets the registry size gauge.
func (m *Metrics) SetRegistryEmbeddings(n int) {
	if m == nil {
		return
	}
	m.registryEmbeddingGauge.Set(float64(n))
}
