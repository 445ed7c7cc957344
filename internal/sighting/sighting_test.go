package sighting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendo/kiosk-engine/internal/settings"
)

func liveSettings() settings.Shift {
	return settings.Shift{
		WarmupEnabled:            true,
		WarmupFrames:             5,
		WarmupStabilityThreshold: 0.08,
		RecognitionCooldown:      3 * time.Second,
	}
}

func stableDetection(frame int64, now time.Time) Detection {
	return Detection{
		CenterX: 100, CenterY: 100,
		BBoxW: 80, BBoxH: 80,
		Confidence: 0.9,
		FrameIndex: frame,
		Now:        now,
	}
}

func TestFilter_Evaluate_PromotesAfterExactlyWarmupFrames(t *testing.T) {
	live := liveSettings()
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	var outcomes []Outcome
	for i := int64(0); i < int64(live.WarmupFrames); i++ {
		outcomes = append(outcomes, f.Evaluate(live, stableDetection(i, base.Add(time.Duration(i)*33*time.Millisecond))))
	}

	for i := 0; i < len(outcomes)-1; i++ {
		assert.Equal(t, StillWarming, outcomes[i], "frame %d should still be warming", i)
	}
	assert.Equal(t, Ready, outcomes[len(outcomes)-1], "exactly warmup_frames consecutive stable frames promotes")
}

func TestFilter_Evaluate_UnstablePositionNeverPromotes(t *testing.T) {
	live := liveSettings()
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	var last Outcome
	for i := int64(0); i < 20; i++ {
		d := stableDetection(i, base.Add(time.Duration(i)*33*time.Millisecond))
		d.CenterX = 100 + float64(i)*40 // drifts far every frame
		last = f.Evaluate(live, d)
	}
	assert.Equal(t, StillWarming, last)
}

func TestFilter_Evaluate_LowConfidenceNeverPromotes(t *testing.T) {
	live := liveSettings()
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	var last Outcome
	for i := int64(0); i < 20; i++ {
		d := stableDetection(i, base.Add(time.Duration(i)*33*time.Millisecond))
		d.Confidence = 0.4
		last = f.Evaluate(live, d)
	}
	assert.Equal(t, StillWarming, last)
}

func TestFilter_Evaluate_CooldownSuppressesAfterReady(t *testing.T) {
	live := liveSettings()
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	var readyAt time.Time
	for i := int64(0); i < int64(live.WarmupFrames); i++ {
		now := base.Add(time.Duration(i) * 33 * time.Millisecond)
		out := f.Evaluate(live, stableDetection(i, now))
		if out == Ready {
			readyAt = now
		}
	}
	require.False(t, readyAt.IsZero())

	// immediately after, within the cooldown window, even a fresh grid cell is suppressed
	next := stableDetection(int64(live.WarmupFrames), readyAt.Add(1*time.Second))
	next.CenterX, next.CenterY = 900, 900
	assert.Equal(t, SuppressedCooldown, f.Evaluate(live, next))

	// after the cooldown elapses, the already warmed-up track promotes again at once
	afterCooldown := stableDetection(int64(live.WarmupFrames)+1, readyAt.Add(4*time.Second))
	assert.Equal(t, Ready, f.Evaluate(live, afterCooldown))
}

func TestFilter_Evaluate_WarmupDisabledSkipsStraightToReady(t *testing.T) {
	live := liveSettings()
	live.WarmupEnabled = false
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	out := f.Evaluate(live, stableDetection(0, base))
	assert.Equal(t, Ready, out)
}

func TestFilter_Evaluate_DistinctGridCellsTrackedIndependently(t *testing.T) {
	live := liveSettings()
	live.RecognitionCooldown = 0 // isolate track logic from the cooldown gate
	f := NewFilter(live)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	a := stableDetection(0, base)
	a.CenterX, a.CenterY = 100, 100
	b := stableDetection(0, base)
	b.CenterX, b.CenterY = 900, 900

	f.Evaluate(live, a)
	f.Evaluate(live, b)

	assert.Len(t, f.tracks, 2)
}
