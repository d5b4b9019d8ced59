package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classification outcomes recorded by the wake word detector
const (
	OutcomeDetected = "detected"
	OutcomeRejected = "rejected"
	OutcomeCooldown = "cooldown"
	OutcomeDisabled = "disabled"
	OutcomeFallback = "fallback"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Metrics contains all Prometheus metrics for the voice activation service.
// Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	FramesDropped    prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsOpened   prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionDuration  prometheus.Histogram
	BufferedDuration prometheus.Histogram

	// Wake word metrics
	Classifications     *prometheus.CounterVec
	ClassificationTime  prometheus.Histogram
	DetectionConfidence prometheus.Histogram
	DetectorTransitions *prometheus.CounterVec

	// Utterance metrics
	UtterancesExported  prometheus.Counter
	UtterancesAbandoned prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	UtteranceSize       prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_frames_dropped_total",
			Help: "Audio frames dropped because a session queue was full",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vas_active_sessions",
			Help: "Current number of listening sessions",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_sessions_opened_total",
			Help: "Total number of sessions opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_session_duration_seconds",
			Help:    "Duration of listening sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		BufferedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_buffer_retained_seconds",
			Help:    "Audio span retained by the ring buffer when an utterance is exported",
			Buckets: prometheus.LinearBuckets(0, 2.5, 13), // 0s to 30s
		}),

		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vas_wakeword_classifications_total",
			Help: "Wake word classification calls by outcome",
		}, []string{"outcome"}),
		ClassificationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_wakeword_classification_duration_seconds",
			Help:    "Round-trip time of recognition worker calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),
		DetectionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_wakeword_confidence",
			Help:    "Confidence score of accepted detections",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		DetectorTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vas_wakeword_detector_state_total",
			Help: "Detector state transitions by target state",
		}, []string{"state"}),

		UtterancesExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_utterances_exported_total",
			Help: "Total number of utterances exported as WAV",
		}),
		UtterancesAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vas_utterances_abandoned_total",
			Help: "Detections discarded because no command followed",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_utterance_duration_seconds",
			Help:    "Duration of exported utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~32s
		}),
		UtteranceSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vas_utterance_size_bytes",
			Help:    "Size of exported WAV files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vas_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vas_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vas_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionOpened increments the sessions opened counter
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordClassification counts one classification call by outcome
func (m *Metrics) RecordClassification(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		m.ClassificationTime.Observe(durationSeconds)
	}
}

// RecordDetection records the confidence of an accepted detection
func (m *Metrics) RecordDetection(confidence float64) {
	if m == nil {
		return
	}
	m.DetectionConfidence.Observe(confidence)
}

// RecordDetectorState counts a detector state transition
func (m *Metrics) RecordDetectorState(state string) {
	if m == nil {
		return
	}
	m.DetectorTransitions.WithLabelValues(state).Inc()
}

// RecordUtteranceExported records an exported utterance
func (m *Metrics) RecordUtteranceExported(durationSeconds float64, sizeBytes int, bufferedSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesExported.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceSize.Observe(float64(sizeBytes))
	m.BufferedDuration.Observe(bufferedSeconds)
}

// RecordUtteranceAbandoned counts a detection with no usable command
func (m *Metrics) RecordUtteranceAbandoned() {
	if m == nil {
		return
	}
	m.UtterancesAbandoned.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
