package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Playback run outcomes, used as the outcome label.
const (
	OutcomeCompleted    = "completed"
	OutcomeCancelled    = "cancelled"
	OutcomeDisconnected = "disconnected"
)

// Metrics tracks session and playback activity. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	FramesEmitted      prometheus.Counter
	AlignmentsComputed prometheus.Counter
	IdentityFallbacks  *prometheus.CounterVec
	DetectionMisses    prometheus.Counter
	PlaybackRuns       *prometheus.CounterVec
	FrameProcessing    prometheus.Histogram
}

// NewMetrics registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "articulate_active_sessions",
			Help: "Number of connected alignment sessions",
		}),
		FramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "articulate_reference_frames_emitted_total",
			Help: "Aligned reference frames sent to clients",
		}),
		AlignmentsComputed: f.NewCounter(prometheus.CounterOpts{
			Name: "articulate_alignments_computed_total",
			Help: "Session transforms estimated from a user capture",
		}),
		IdentityFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "articulate_identity_fallbacks_total",
			Help: "Region estimates that fell back to the identity transform",
		}, []string{"region"}),
		DetectionMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "articulate_detection_misses_total",
			Help: "Inbound frames in which no face was detected",
		}),
		PlaybackRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "articulate_playback_runs_total",
			Help: "Reference playback runs by outcome",
		}, []string{"outcome"}),
		FrameProcessing: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "articulate_frame_processing_seconds",
			Help:    "Time to align, smooth and queue one reference frame",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.033, 0.05, 0.1},
		}),
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ObserveFrame records one emitted frame and its processing time.
func (m *Metrics) ObserveFrame(processing time.Duration) {
	if m == nil {
		return
	}
	m.FramesEmitted.Inc()
	m.FrameProcessing.Observe(processing.Seconds())
}

// ObserveAlignment records a computed session transform. Each region that
// fell back to identity is counted separately.
func (m *Metrics) ObserveAlignment(jawFitted, mouthFitted bool) {
	if m == nil {
		return
	}
	m.AlignmentsComputed.Inc()
	if !jawFitted {
		m.IdentityFallbacks.WithLabelValues("jaw").Inc()
	}
	if !mouthFitted {
		m.IdentityFallbacks.WithLabelValues("mouth").Inc()
	}
}

// DetectionMiss records a frame without a face.
func (m *Metrics) DetectionMiss() {
	if m == nil {
		return
	}
	m.DetectionMisses.Inc()
}

// PlaybackFinished records a playback run outcome.
func (m *Metrics) PlaybackFinished(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackRuns.WithLabelValues(outcome).Inc()
}
