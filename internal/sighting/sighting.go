// Package sighting implements the grid-keyed warm-up filter: it
// suppresses transient detections and rapid repeat recognitions without
// ever blocking a legitimate new subject.
package sighting

import (
	"math"
	"sync"
	"time"

	"github.com/attendo/kiosk-engine/internal/settings"
)

// Outcome is the verdict the filter returns for one raw detection.
type Outcome string

const (
	StillWarming      Outcome = "still_warming"
	Ready             Outcome = "ready"
	SuppressedCooldown Outcome = "suppressed_by_cooldown"
)

// Detection is one raw frame observation from the boundary adapter.
type Detection struct {
	CenterX, CenterY   float64
	BBoxW, BBoxH       float64
	Confidence         float64
	FrameIndex         int64
	Now                time.Time
}

// gridKey is the coarse track identity: floor(cx/50), floor(cy/50).
type gridKey struct {
	gx, gy int64
}

func keyFor(d Detection) gridKey {
	return gridKey{
		gx: int64(math.Floor(d.CenterX / 50)),
		gy: int64(math.Floor(d.CenterY / 50)),
	}
}

// observation is one entry in a track's history.
type observation struct {
	centerX, centerY float64
	bboxW, bboxH     float64
	confidence       float64
	frameIndex       int64
}

// track is the per-grid-cell rolling history used for stability checks.
type track struct {
	history      []observation
	lastSeenFrame int64
}

// Filter is the stateful sighting filter. All methods are safe for
// concurrent use, but the engine is expected to call Evaluate from a
// single goroutine to keep its serialization model simple; the mutex
// exists so tests and alternative callers aren't forced into that
// discipline.
//
// The cooldown gate is deliberately plain state rather than a
// catrate.Limiter: catrate's Allow both checks and registers an event in
// one call, but this gate must be *peeked* on every incoming detection
// (including the still_warming ones that make up the bulk of traffic)
// and only *set* on the rarer ready emission. A limiter that counts every
// peek as an event would stall warm-up before it ever accumulates enough
// frames. The per-method scan cooldowns in the engine are separate gates
// on actual recognition attempts, kept by the engine itself.
type Filter struct {
	mu                 sync.Mutex
	tracks             map[gridKey]*track
	lastRecognitionSet bool
	lastRecognition    time.Time
}

// NewFilter constructs an empty Filter.
func NewFilter(live settings.Shift) *Filter {
	return &Filter{
		tracks: make(map[gridKey]*track),
	}
}

// Evaluate runs the full algorithm in spec order: cooldown check first,
// then track update, then stability/promotion.
func (f *Filter) Evaluate(live settings.Shift, d Detection) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if live.RecognitionCooldown > 0 && f.lastRecognitionSet && d.Now.Sub(f.lastRecognition) < live.RecognitionCooldown {
		return SuppressedCooldown
	}

	if !live.WarmupEnabled {
		f.lastRecognition = d.Now
		f.lastRecognitionSet = true
		return Ready
	}

	key := keyFor(d)
	tr, ok := f.tracks[key]
	if !ok {
		tr = &track{}
		f.tracks[key] = tr
	}
	tr.lastSeenFrame = d.FrameIndex
	tr.history = append(tr.history, observation{
		centerX: d.CenterX, centerY: d.CenterY,
		bboxW: d.BBoxW, bboxH: d.BBoxH,
		confidence: d.Confidence,
		frameIndex: d.FrameIndex,
	})
	maxLen := 2 * live.WarmupFrames
	if maxLen > 0 && len(tr.history) > maxLen {
		tr.history = tr.history[len(tr.history)-maxLen:]
	}

	if len(tr.history) < live.WarmupFrames {
		return StillWarming
	}

	window := tr.history[len(tr.history)-live.WarmupFrames:]
	if !positionallyStable(window, live.WarmupStabilityThreshold) || !confidenceStable(window) {
		return StillWarming
	}

	f.pruneStaleTracks(d.FrameIndex, live.WarmupFrames)
	f.lastRecognition = d.Now
	f.lastRecognitionSet = true
	return Ready
}

func positionallyStable(window []observation, threshold float64) bool {
	origin := window[0]
	for i := 1; i < len(window); i++ {
		e := window[i]
		dist := math.Hypot(e.centerX-origin.centerX, e.centerY-origin.centerY)
		denom := math.Max(e.bboxW, e.bboxH)
		if denom <= 0 {
			return false
		}
		if dist/denom > threshold {
			return false
		}
	}
	return true
}

func confidenceStable(window []observation) bool {
	min := window[0].confidence
	sum := 0.0
	for _, e := range window {
		if e.confidence < min {
			min = e.confidence
		}
		sum += e.confidence
	}
	mean := sum / float64(len(window))
	return min > 0.5 && mean > 0.7
}

// pruneStaleTracks drops tracks last seen before frame − 5·warmupFrames.
func (f *Filter) pruneStaleTracks(currentFrame int64, warmupFrames int) {
	threshold := currentFrame - int64(5*warmupFrames)
	for k, tr := range f.tracks {
		if tr.lastSeenFrame < threshold {
			delete(f.tracks, k)
		}
	}
}
