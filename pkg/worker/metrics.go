package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks pipeline outcomes and stage latency
type Metrics struct {
	runs          *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	audioSeconds  prometheus.Histogram
	segments      prometheus.Histogram
	inFlight      prometheus.Gauge
}

// NewMetrics creates pipeline metrics and registers them on reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperq_worker_runs_total",
				Help: "Pipeline runs by result status",
			},
			[]string{"status"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whisperq_worker_stage_failures_total",
				Help: "Pipeline failures by the stage that failed",
			},
			[]string{"stage"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whisperq_worker_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 3, 10),
			},
			[]string{"stage"},
		),
		audioSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperq_worker_audio_duration_seconds",
			Help:    "Duration of extracted audio",
			Buckets: prometheus.ExponentialBuckets(10, 3, 8),
		}),
		segments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperq_worker_segments",
			Help:    "Transcript segments produced per run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whisperq_worker_runs_in_flight",
			Help: "Pipeline runs currently executing",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.stageFailures, m.stageDuration, m.audioSeconds, m.segments, m.inFlight)
	}
	return m
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeResult(status, failedStage string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	if failedStage != "" {
		m.stageFailures.WithLabelValues(failedStage).Inc()
	}
}

func (m *Metrics) observeAudio(d time.Duration) {
	if m != nil {
		m.audioSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) observeSegments(n int) {
	if m != nil {
		m.segments.Observe(float64(n))
	}
}

func (m *Metrics) trackInFlight(delta float64) {
	if m != nil {
		m.inFlight.Add(delta)
	}
}
