package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Name:      "sync_requests_total",
		Help:      "Sync requests by result",
	}, []string{"result"})

	ViewerReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Name:      "viewer_reports_total",
		Help:      "Viewer position reports by outcome",
	}, []string{"outcome"})

	// SyncDelta tracks the absolute difference between viewer and host position.
	SyncDelta = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "watchsync",
		Name:      "sync_delta_seconds",
		Help:      "Absolute viewer drift from the extrapolated host position",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})

	HostTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Name:      "host_transfers_total",
		Help:      "Host transfer attempts by result",
	}, []string{"result"})

	PlaybackUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchsync",
		Name:      "playback_updates_total",
		Help:      "Host playback updates by result",
	}, []string{"result"})

	OutboxDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchsync",
		Name:      "outbox_dropped_total",
		Help:      "Outbound pushes dropped because the session outbox was full",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchsync",
		Name:      "active_sessions",
		Help:      "Number of sessions with a running coordinator",
	})
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultIgnored  = "ignored"

	OutcomeInSync     = "in_sync"
	OutcomeCorrected  = "corrected"
	OutcomeSuppressed = "suppressed"
)

func ObserveSyncRequest(result string) {
	SyncRequestsTotal.WithLabelValues(result).Inc()
}

func ObserveViewerReport(outcome string, absDelta float64) {
	ViewerReportsTotal.WithLabelValues(outcome).Inc()
	SyncDelta.Observe(absDelta)
}

func ObserveHostTransfer(result string) {
	HostTransfersTotal.WithLabelValues(result).Inc()
}

func ObservePlaybackUpdate(result string) {
	PlaybackUpdatesTotal.WithLabelValues(result).Inc()
}
