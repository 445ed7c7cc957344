// Package settings holds the live, atomically-swapped shift/warm-up
// configuration that the sighting filter and shift policy read on every
// decision, and the watcher that keeps it current.
package settings

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/attendo/kiosk-engine/internal/health"
)

// GroupCommitMode governs how the group buffer treats admissions that
// arrive while a commit_group call is in progress.
type GroupCommitMode string

const (
	GroupCommitReject GroupCommitMode = "reject_admissions"
	GroupCommitQueue  GroupCommitMode = "queue_admissions"
)

// Shift is the wholesale settings struct the sighting filter and shift
// policy read. It is always read and replaced as a unit — never
// half-updated.
type Shift struct {
	EarlyShiftMinClockout    string
	RegularShiftMinClockout  string
	WarmupEnabled            bool
	WarmupFrames             int
	WarmupStabilityThreshold float64
	RecognitionCooldown      time.Duration
	ScanCooldownFace         time.Duration
	ScanCooldownCode         time.Duration
	GroupCommitMode          GroupCommitMode
}

// Defaults match the recognized keys and defaults table.
func Defaults() Shift {
	return Shift{
		EarlyShiftMinClockout:    "17:00",
		RegularShiftMinClockout:  "17:15",
		WarmupEnabled:            true,
		WarmupFrames:             15,
		WarmupStabilityThreshold: 0.08,
		RecognitionCooldown:      3 * time.Second,
		ScanCooldownFace:         5 * time.Second,
		ScanCooldownCode:         5 * time.Second,
		GroupCommitMode:          GroupCommitReject,
	}
}

// Source reads the current settings from wherever they're persisted.
type Source interface {
	Read(ctx context.Context) (Shift, error)
}

// Watcher polls a Source on an interval and exposes the most recently
// read Shift via an atomic pointer, so readers on other goroutines never
// observe a half-updated struct.
type Watcher struct {
	source    Source
	interval  time.Duration
	current   atomic.Pointer[Shift]
	loggedErr atomic.Bool
	succeeded atomic.Bool

	// Health records settings_unreadable_at_startup on every failed read
	// until one read has succeeded. Optional: nil drops it, the watcher
	// still falls back to Defaults either way.
	Health *health.Recorder
}

// NewWatcher seeds current with Defaults; polling source every interval
// (default 20s if interval <= 0) starts when Run is called, typically in
// a goroutine.
func NewWatcher(source Source, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	w := &Watcher{source: source, interval: interval}
	seed := Defaults()
	w.current.Store(&seed)
	return w
}

// Current returns the most recently loaded settings snapshot.
func (w *Watcher) Current() Shift {
	return *w.current.Load()
}

// Refresh performs one read-and-swap, used both by Run's ticker loop and
// by tests that want deterministic control over refresh timing. On
// source failure it keeps the previous settings and logs once, per the
// settings-source failure clause in the concurrency model.
func (w *Watcher) Refresh(ctx context.Context) {
	next, err := w.source.Read(ctx)
	if err != nil {
		if !w.loggedErr.Swap(true) {
			slog.Error("settings: source read failed, keeping previous settings", "error", err)
		}
		if !w.succeeded.Load() {
			w.Health.Record("settings_unreadable_at_startup", err, time.Now())
		}
		return
	}
	w.loggedErr.Store(false)
	w.succeeded.Store(true)
	w.current.Store(&next)
}

// Run blocks, refreshing on every tick of interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}
