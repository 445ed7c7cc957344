// Package recognizer implements the bridge between a raw detection and a
// subject identity: identify(frame, bbox) → (subject_id, confidence)
// or unknown. The bridge owns the acceptance threshold; callers never see
// a raw score.
package recognizer

import (
	"context"
)

// BBox is a pixel-space bounding box in the source frame.
type BBox struct {
	X, Y, W, H float64
}

// acceptThreshold is the minimum confidence the bridge will accept.
const acceptThreshold = 0.6

// paddingRatio widens the crop on retry after a first failed embed.
const paddingRatio = 0.25

// Embedder produces a face embedding from a cropped region of frame. A
// non-nil error is treated as a failed attempt, not a hard error — the
// bridge either retries with a wider crop or falls through to unknown.
type Embedder interface {
	Embed(ctx context.Context, frame []byte, crop BBox) ([]float32, error)
}

// Matcher compares an embedding against the enrolled population and
// returns the best candidate subject id and its similarity score.
type Matcher interface {
	Match(ctx context.Context, embedding []float32) (subjectID string, confidence float64, err error)
}

// Result is the bridge's opaque verdict; Unknown is true whenever no
// subject cleared the acceptance threshold, regardless of why.
type Result struct {
	SubjectID  string
	Confidence float64
	Unknown    bool
}

// Bridge composes an Embedder and Matcher behind the single identify
// operation the core depends on.
type Bridge struct {
	Embedder Embedder
	Matcher  Matcher
}

// NewBridge wires embedder and matcher into a Bridge.
func NewBridge(embedder Embedder, matcher Matcher) *Bridge {
	return &Bridge{Embedder: embedder, Matcher: matcher}
}

// Identify crops frame at bbox, embeds it, and matches against the
// enrolled population. On embed failure it retries once with the crop
// widened by paddingRatio. Any remaining failure, or a match below the
// acceptance threshold, results in Unknown; the core never sees the raw
// embedder/matcher errors.
func (b *Bridge) Identify(ctx context.Context, frame []byte, bbox BBox) Result {
	embedding, err := b.Embedder.Embed(ctx, frame, bbox)
	if err != nil {
		embedding, err = b.Embedder.Embed(ctx, frame, widen(bbox, paddingRatio))
		if err != nil {
			return Result{Unknown: true}
		}
	}

	subjectID, confidence, err := b.Matcher.Match(ctx, embedding)
	if err != nil || confidence < acceptThreshold {
		return Result{Unknown: true}
	}
	return Result{SubjectID: subjectID, Confidence: confidence}
}

func widen(b BBox, ratio float64) BBox {
	dx := b.W * ratio / 2
	dy := b.H * ratio / 2
	return BBox{
		X: b.X - dx,
		Y: b.Y - dy,
		W: b.W + 2*dx,
		H: b.H + 2*dy,
	}
}
