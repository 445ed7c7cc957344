// Package metrics holds the kiosk's Prometheus instrumentation. A
// full observability platform is out of scope, but the engine's
// decisions still get counted the way every other service in the
// fleet is.
package metrics

import (
	"github.com/attendo/kiosk-engine/internal/outcome"
	"github.com/attendo/kiosk-engine/internal/policy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus vector the engine and boundary emit to.
type Metrics struct {
	AttendanceCommitted *prometheus.CounterVec
	AttendanceRejected  *prometheus.CounterVec
	AttendanceAborted   *prometheus.CounterVec

	CooldownHits *prometheus.CounterVec

	WarmupDuration *prometheus.HistogramVec

	GroupAdmitted     *prometheus.CounterVec
	GroupRejected     *prometheus.CounterVec
	GroupCommitSize   prometheus.Histogram
	GroupCommitFailed *prometheus.CounterVec
}

// New constructs and registers every vector.
func New() *Metrics {
	return &Metrics{
		AttendanceCommitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_attendance_committed_total",
				Help: "Total attendance records committed, by action kind",
			},
			[]string{"action", "late"},
		),
		AttendanceRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_attendance_rejected_total",
				Help: "Total attendance attempts rejected, by reason",
			},
			[]string{"reason"},
		),
		AttendanceAborted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_attendance_aborted_total",
				Help: "Total attendance attempts aborted after an eligible decision, by reason",
			},
			[]string{"reason"},
		),
		CooldownHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_cooldown_hits_total",
				Help: "Total recognition attempts suppressed by a scan cooldown, by method",
			},
			[]string{"method"},
		),
		WarmupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiosk_warmup_duration_seconds",
				Help:    "Time from a track's first detection to its promotion to ready",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
			},
			[]string{},
		),
		GroupAdmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_group_admitted_total",
				Help: "Total subjects admitted into the group checkout buffer",
			},
			[]string{},
		),
		GroupRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_group_rejected_total",
				Help: "Total group admission attempts rejected, by reason",
			},
			[]string{"reason"},
		),
		GroupCommitSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kiosk_group_commit_size",
				Help:    "Number of subjects committed per group checkout",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
		),
		GroupCommitFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_group_commit_failed_total",
				Help: "Total subjects that failed a group commit recheck or write",
			},
			[]string{},
		),
	}
}

// RecordWarmupDuration records the elapsed time a track spent warming up
// before promotion.
func (m *Metrics) RecordWarmupDuration(seconds float64) {
	m.WarmupDuration.WithLabelValues().Observe(seconds)
}

// RecordCooldownHit records one suppressed recognition attempt for method
// ("face" or "code").
func (m *Metrics) RecordCooldownHit(method string) {
	m.CooldownHits.WithLabelValues(method).Inc()
}

// Observe translates one published outcome into the matching vectors.
// It is the single place every subscriber-side metric update lives, so
// httpapi's websocket handler and any other outcome.Bus subscriber stay
// free of Prometheus label bookkeeping.
func (m *Metrics) Observe(o *outcome.Outcome) {
	switch o.Type {
	case outcome.TypeAttendanceCommitted:
		m.AttendanceCommitted.WithLabelValues(string(o.Action), boolLabel(o.Late)).Inc()
	case outcome.TypeAttendanceRejected:
		m.AttendanceRejected.WithLabelValues(string(o.RejectReason)).Inc()
		if o.RejectReason == policy.RejectReason("cooldown_active") {
			m.CooldownHits.WithLabelValues("unknown").Inc()
		}
	case outcome.TypeAttendanceAborted:
		m.AttendanceAborted.WithLabelValues(o.AbortReason).Inc()
	case outcome.TypeGroupAdmitted:
		m.GroupAdmitted.WithLabelValues().Inc()
	case outcome.TypeGroupRejected:
		m.GroupRejected.WithLabelValues(string(o.RejectReason)).Inc()
	case outcome.TypeGroupCommitResult:
		var failed int
		for _, r := range o.GroupResults {
			if r.Error != "" {
				failed++
			}
		}
		m.GroupCommitSize.Observe(float64(len(o.GroupResults) - failed))
		if failed > 0 {
			m.GroupCommitFailed.WithLabelValues().Add(float64(failed))
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
