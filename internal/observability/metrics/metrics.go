// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Frame metrics
	FramesReceived   prometheus.Counter
	AudioBytes       prometheus.Counter
	FramesEchoed     prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	FramesClassified *prometheus.CounterVec
	ClassifyErrors   prometheus.Counter

	// Utterance metrics
	Utterances     *prometheus.CounterVec
	UtteranceBytes prometheus.Histogram

	// Transcription metrics
	JobsSubmitted        prometheus.Counter
	JobsRejected         *prometheus.CounterVec
	JobsCompleted        *prometheus.CounterVec
	JobsFailed           *prometheus.CounterVec
	JobsInFlight         prometheus.Gauge
	TranscriptionLatency *prometheus.HistogramVec
	QueueWait            prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of media stream sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active media stream sessions",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended, by cause",
		}, []string{"cause"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of media stream sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		// Frame metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total media frames received",
		}),
		AudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_decoded_total",
			Help:      "Total PCM bytes decoded from media frames",
		}),
		FramesEchoed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_echoed_total",
			Help:      "Total media frames echoed back to the stream",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total media frames dropped before segmentation",
		}, []string{"reason"}),
		FramesClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_classified_total",
			Help:      "Total frames classified, by outcome",
		}, []string{"class"}),
		ClassifyErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_errors_total",
			Help:      "Total classifier failures treated as non-speech",
		}),

		// Utterance metrics
		Utterances: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total utterances flushed, by reason",
		}, []string{"reason"}),
		UtteranceBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_bytes",
			Help:      "PCM size of flushed utterances",
			Buckets:   prometheus.ExponentialBuckets(1600, 2, 10),
		}),

		// Transcription metrics
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_submitted_total",
			Help:      "Total transcription jobs accepted",
		}),
		JobsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_rejected_total",
			Help:      "Total transcription jobs rejected at submission",
		}, []string{"reason"}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_completed_total",
			Help:      "Total transcription jobs completed",
		}, []string{"provider"}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_failed_total",
			Help:      "Total transcription jobs failed",
		}, []string{"provider", "error_type"}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_in_flight",
			Help:      "Transcription jobs currently executing",
		}),
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Backend transcription latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider", "status"}),
		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_queue_wait_seconds",
			Help:      "Time jobs spend queued behind earlier jobs of the same session",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC calls handled",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(cause string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(cause).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrame records one inbound media frame.
func (m *Metrics) RecordFrame() {
	m.FramesReceived.Inc()
}

// RecordDecoded records PCM bytes produced by the codec.
func (m *Metrics) RecordDecoded(bytes int) {
	m.AudioBytes.Add(float64(bytes))
}

// RecordEcho records one echoed frame.
func (m *Metrics) RecordEcho() {
	m.FramesEchoed.Inc()
}

// RecordFrameDropped records a frame dropped before segmentation.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordClassified records a classification outcome.
func (m *Metrics) RecordClassified(speech bool) {
	if speech {
		m.FramesClassified.WithLabelValues("speech").Inc()
	} else {
		m.FramesClassified.WithLabelValues("non_speech").Inc()
	}
}

// RecordClassificationError records a classifier failure.
func (m *Metrics) RecordClassificationError() {
	m.ClassifyErrors.Inc()
}

// RecordUtterance records a flushed utterance.
func (m *Metrics) RecordUtterance(reason string, bytes int) {
	m.Utterances.WithLabelValues(reason).Inc()
	m.UtteranceBytes.Observe(float64(bytes))
}

// RecordJobSubmitted records an accepted job.
func (m *Metrics) RecordJobSubmitted() {
	m.JobsSubmitted.Inc()
}

// RecordJobRejected records a job refused at submission.
func (m *Metrics) RecordJobRejected(reason string) {
	m.JobsRejected.WithLabelValues(reason).Inc()
}

// RecordJobStarted records a job leaving the queue.
func (m *Metrics) RecordJobStarted(queueWaitSeconds float64) {
	m.JobsInFlight.Inc()
	m.QueueWait.Observe(queueWaitSeconds)
}

// RecordJobFinished records the outcome of a job.
func (m *Metrics) RecordJobFinished(provider, errorType string, latencySeconds float64) {
	m.JobsInFlight.Dec()
	if errorType == "" {
		m.JobsCompleted.WithLabelValues(provider).Inc()
		m.TranscriptionLatency.WithLabelValues(provider, "completed").Observe(latencySeconds)
		return
	}
	m.JobsFailed.WithLabelValues(provider, errorType).Inc()
	m.TranscriptionLatency.WithLabelValues(provider, "failed").Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPC records a completed gRPC call.
func (m *Metrics) RecordGRPC(method, code string, durationSeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(durationSeconds)
}
