package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abx",
			Subsystem: "client",
			Name:      "request_attempts_total",
			Help:      "Request attempts by call type and outcome.",
		},
		[]string{"call", "success"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abx",
			Subsystem: "client",
			Name:      "packets_received_total",
			Help:      "Decoded packets by call type and whether they were new.",
		},
		[]string{"call", "accepted"},
	)
	malformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "abx",
			Subsystem: "client",
			Name:      "malformed_frames_total",
			Help:      "Reads that did not yield a full packet frame.",
		},
	)
	sequenceGaps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "abx",
			Subsystem: "client",
			Name:      "sequence_gaps",
			Help:      "Missing sequence numbers after the bulk fetch and after gap fill.",
		},
		[]string{"phase"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abx",
			Subsystem: "client",
			Name:      "run_duration_seconds",
			Help:      "Reconstruction run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestAttempts, packetsReceived, malformedFrames, sequenceGaps, runDuration)
	})
}

func RecordAttempt(call string, success bool) {
	RegisterMetrics()
	requestAttempts.WithLabelValues(call, strconv.FormatBool(success)).Inc()
}

func RecordPacket(call string, accepted bool) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(call, strconv.FormatBool(accepted)).Inc()
}

func RecordMalformedFrame() {
	RegisterMetrics()
	malformedFrames.Inc()
}

func RecordGaps(phase string, n int) {
	RegisterMetrics()
	sequenceGaps.WithLabelValues(phase).Set(float64(n))
}

func RecordRun(outcome string, duration time.Duration) {
	RegisterMetrics()
	runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// WriteTextfile dumps the default registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
