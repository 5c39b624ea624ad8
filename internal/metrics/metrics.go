package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionFailures prometheus.Counter
	SessionDuration prometheus.Histogram

	// Encode metrics
	FramesIn       *prometheus.CounterVec
	PacketsMuxed   *prometheus.CounterVec
	PacketSize     *prometheus.HistogramVec
	KeyFrames      prometheus.Counter
	NoOutput       *prometheus.CounterVec
	EncodeFailures *prometheus.CounterVec
	AudioDropped   prometheus.Counter
	MuxErrors      *prometheus.CounterVec
	AudioTimestamp prometheus.Gauge

	// Output metrics
	OutputConnections *prometheus.CounterVec
	OutputErrors      *prometheus.CounterVec
	OutputBytes       *prometheus.CounterVec

	// Recording metrics
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram
	SegmentsStored  prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidcast_active_sessions",
			Help: "Number of currently open sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_sessions_started_total",
			Help: "Total number of sessions opened",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_sessions_stopped_total",
			Help: "Total number of sessions shut down",
		}),
		SessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_session_open_failures_total",
			Help: "Total number of sessions that failed to open",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidcast_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),

		FramesIn: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_input_units_total",
				Help: "Raw video frames and audio chunks submitted",
			},
			[]string{"stream"},
		),
		PacketsMuxed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_packets_muxed_total",
				Help: "Encoded packets handed to the muxer",
			},
			[]string{"stream"},
		),
		PacketSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidcast_packet_size_bytes",
				Help:    "Size of encoded packets in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 14), // 64B to ~512KB
			},
			[]string{"stream"},
		),
		KeyFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_keyframes_total",
			Help: "Total number of video keyframes muxed",
		}),
		NoOutput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_encoder_no_output_total",
				Help: "Encode calls where the encoder buffered input without output",
			},
			[]string{"stream"},
		),
		EncodeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_encode_failures_total",
				Help: "Encode calls that failed",
			},
			[]string{"stream"},
		),
		AudioDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_audio_chunks_dropped_total",
			Help: "Audio chunks dropped on buffer overflow",
		}),
		MuxErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_mux_errors_total",
				Help: "Packets the muxer failed to write",
			},
			[]string{"stream"},
		),
		AudioTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidcast_audio_timestamp_ms",
			Help: "Most recent audio timestamp written",
		}),

		OutputConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_output_connections_total",
				Help: "Output sinks opened",
			},
			[]string{"scheme"},
		),
		OutputErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_output_errors_total",
				Help: "Output sink errors",
			},
			[]string{"scheme"},
		),
		OutputBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_output_bytes_total",
				Help: "Bytes written to output sinks",
			},
			[]string{"scheme"},
		),

		SegmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidcast_segments_created_total",
			Help: "Total number of HLS segments created",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidcast_segment_duration_seconds",
			Help:    "Duration of HLS segments",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidcast_segment_size_bytes",
			Help:    "Size of HLS segments in bytes",
			Buckets: prometheus.ExponentialBuckets(10240, 2, 10), // 10KB to ~5MB
		}),
		SegmentsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidcast_segments_stored",
			Help: "Number of segments currently stored",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidcast_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidcast_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordSessionStart records a session opening
func (m *Metrics) RecordSessionStart() {
	m.ActiveSessions.Inc()
	m.SessionsStarted.Inc()
}

// RecordSessionStop records a session shutting down
func (m *Metrics) RecordSessionStop(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailure records a session that failed to open
func (m *Metrics) RecordSessionFailure() {
	m.SessionFailures.Inc()
}

// RecordInput records a raw frame or chunk submitted
func (m *Metrics) RecordInput(stream string) {
	m.FramesIn.WithLabelValues(stream).Inc()
}

// RecordPacket records a packet handed to the muxer
func (m *Metrics) RecordPacket(stream string, size int, keyFrame bool) {
	m.PacketsMuxed.WithLabelValues(stream).Inc()
	m.PacketSize.WithLabelValues(stream).Observe(float64(size))
	if keyFrame && stream == "video" {
		m.KeyFrames.Inc()
	}
}

// RecordAudioTimestamp records the latest audio timestamp
func (m *Metrics) RecordAudioTimestamp(ms int64) {
	m.AudioTimestamp.Set(float64(ms))
}

// RecordNoOutput records an encode call without output
func (m *Metrics) RecordNoOutput(stream string) {
	m.NoOutput.WithLabelValues(stream).Inc()
}

// RecordNoOutputN records n encode calls without output
func (m *Metrics) RecordNoOutputN(stream string, n int) {
	if n > 0 {
		m.NoOutput.WithLabelValues(stream).Add(float64(n))
	}
}

// RecordEncodeFailure records a failed encode call
func (m *Metrics) RecordEncodeFailure(stream string) {
	m.EncodeFailures.WithLabelValues(stream).Inc()
}

// RecordEncodeFailureN records n failed encode calls
func (m *Metrics) RecordEncodeFailureN(stream string, n int) {
	if n > 0 {
		m.EncodeFailures.WithLabelValues(stream).Add(float64(n))
	}
}

// RecordAudioDropped records an audio chunk dropped on overflow
func (m *Metrics) RecordAudioDropped() {
	m.AudioDropped.Inc()
}

// RecordMuxError records a packet the muxer failed to write
func (m *Metrics) RecordMuxError(stream string) {
	m.MuxErrors.WithLabelValues(stream).Inc()
}

// RecordOutputConnection records an output sink being opened
func (m *Metrics) RecordOutputConnection(scheme string) {
	m.OutputConnections.WithLabelValues(scheme).Inc()
}

// RecordOutputError records an output sink error
func (m *Metrics) RecordOutputError(scheme string) {
	m.OutputErrors.WithLabelValues(scheme).Inc()
}

// RecordOutputBytes records bytes written to an output sink
func (m *Metrics) RecordOutputBytes(scheme string, n int) {
	m.OutputBytes.WithLabelValues(scheme).Add(float64(n))
}

// RecordSegment records a segment created
func (m *Metrics) RecordSegment(durationSeconds float64, sizeBytes int64) {
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
	m.SegmentsStored.Inc()
}

// RecordSegmentDeleted records a segment deleted
func (m *Metrics) RecordSegmentDeleted() {
	m.SegmentsStored.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, path, m.statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// statusCodeToString converts an HTTP status code to a string
func (m *Metrics) statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
