package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prolink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "codec",
			Name:      "packets_total",
			Help:      "Decoded packets by port and kind.",
		},
		[]string{"port", "kind"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "codec",
			Name:      "dropped_total",
			Help:      "Packets dropped by the decoder, by port and reason.",
		},
		[]string{"port", "reason"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "participant",
			Name:      "sent_total",
			Help:      "Packets sent by the virtual participant, by kind.",
		},
		[]string{"kind"},
	)
	devicesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prolink",
			Subsystem: "directory",
			Name:      "devices",
			Help:      "Devices currently tracked.",
		},
	)
	directoryChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "directory",
			Name:      "changes_total",
			Help:      "Directory mutations by change type.",
		},
		[]string{"change"},
	)
	masterRole = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "prolink",
			Subsystem: "arbitration",
			Name:      "role",
			Help:      "1 for the local role currently held, 0 otherwise.",
		},
		[]string{"role"},
	)
	arbitrationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "arbitration",
			Name:      "events_total",
			Help:      "Arbitration events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)
	callbackPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prolink",
			Subsystem: "dispatch",
			Name:      "callback_panics_total",
			Help:      "Subscriber callbacks that panicked.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packetsReceived, packetsDropped, packetsSent,
			devicesTracked, directoryChanges,
			masterRole, arbitrationEvents,
			callbackPanics,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(port, kind string) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(port, kind).Inc()
}

func RecordDrop(port, reason string) {
	RegisterMetrics()
	packetsDropped.WithLabelValues(port, reason).Inc()
}

func RecordSent(kind string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(kind).Inc()
}

func RecordDirectory(change string, size int) {
	RegisterMetrics()
	if change != "" {
		directoryChanges.WithLabelValues(change).Inc()
	}
	devicesTracked.Set(float64(size))
}

// RecordRole sets the gauge for current to 1 and every other role in all
// to 0.
func RecordRole(current string, all []string) {
	RegisterMetrics()
	for _, r := range all {
		v := 0.0
		if r == current {
			v = 1
		}
		masterRole.WithLabelValues(r).Set(v)
	}
}

func RecordArbitration(event, outcome string) {
	RegisterMetrics()
	arbitrationEvents.WithLabelValues(event, outcome).Inc()
}

func RecordCallbackPanic() {
	RegisterMetrics()
	callbackPanics.Inc()
}
