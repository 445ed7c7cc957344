package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEmbedder struct {
	failFirst bool
	calls     int
	embedding []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, frame []byte, crop BBox) ([]float32, error) {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return nil, errors.New("crop too tight")
	}
	return f.embedding, nil
}

type fakeMatcher struct {
	subjectID  string
	confidence float64
	err        error
}

func (f *fakeMatcher) Match(ctx context.Context, embedding []float32) (string, float64, error) {
	return f.subjectID, f.confidence, f.err
}

func TestBridge_Identify_AcceptsAboveThreshold(t *testing.T) {
	b := NewBridge(&fakeEmbedder{}, &fakeMatcher{subjectID: "s1", confidence: 0.81})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.False(t, result.Unknown)
	assert.Equal(t, "s1", result.SubjectID)
	assert.Equal(t, 0.81, result.Confidence)
}

func TestBridge_Identify_RejectsBelowThreshold(t *testing.T) {
	b := NewBridge(&fakeEmbedder{}, &fakeMatcher{subjectID: "s1", confidence: 0.59})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.True(t, result.Unknown)
}

func TestBridge_Identify_AcceptsExactlyAtThreshold(t *testing.T) {
	b := NewBridge(&fakeEmbedder{}, &fakeMatcher{subjectID: "s1", confidence: 0.6})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.False(t, result.Unknown)
}

func TestBridge_Identify_RetriesOnceWithWidenedCrop(t *testing.T) {
	embedder := &fakeEmbedder{failFirst: true}
	b := NewBridge(embedder, &fakeMatcher{subjectID: "s1", confidence: 0.9})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.False(t, result.Unknown)
	assert.Equal(t, 2, embedder.calls)
}

type alwaysFailEmbedder struct{}

func (alwaysFailEmbedder) Embed(ctx context.Context, frame []byte, crop BBox) ([]float32, error) {
	return nil, errors.New("no face detected in crop")
}

func TestBridge_Identify_UnknownAfterSecondEmbedFailure(t *testing.T) {
	b := NewBridge(alwaysFailEmbedder{}, &fakeMatcher{subjectID: "s1", confidence: 0.9})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.True(t, result.Unknown)
}

func TestBridge_Identify_MatcherErrorIsUnknownNotSurfaced(t *testing.T) {
	b := NewBridge(&fakeEmbedder{}, &fakeMatcher{err: errors.New("matcher backend unavailable")})

	result := b.Identify(context.Background(), nil, BBox{W: 100, H: 100})
	assert.True(t, result.Unknown)
}
