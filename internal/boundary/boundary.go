// Package boundary normalizes the three kiosk intake surfaces — passive
// camera detections, scanned machine-readable codes, and manually typed
// ids — into engine.IdentityEvent values and submits them to the engine.
// It owns every goroutine that talks to a device or a device-adjacent
// channel; the engine itself never touches raw detection data.
package boundary

import (
	"sync"
	"time"

	"github.com/attendo/kiosk-engine/internal/recognizer"
)

// Detection is one raw camera frame observation, carrying both the crop
// recognizer.Bridge needs to identify it and the positional/confidence
// fields sighting.Filter needs to decide whether it is stable enough to
// identify at all.
type Detection struct {
	Frame      []byte
	BBox       recognizer.BBox
	CenterX    float64
	CenterY    float64
	BBoxW      float64
	BBoxH      float64
	Confidence float64
	FrameIndex int64
	Now        time.Time
}

// Mailbox is a capacity-1, most-recent-wins mailbox: a producer (the
// camera capture loop) never blocks on a slow consumer, and a consumer
// that falls behind only ever sees the latest
// frame, not a backlog of stale ones.
type Mailbox struct {
	mu sync.Mutex
	ch chan Detection
}

// NewMailbox constructs an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Detection, 1)}
}

// Send deposits d, replacing whatever detection is currently buffered.
// Send never blocks.
func (m *Mailbox) Send(d Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.ch <- d:
		return
	default:
	}
	select {
	case <-m.ch:
	default:
	}
	select {
	case m.ch <- d:
	default:
		// another Send won the race on the drain above; its value stands.
	}
}

// Recv returns the channel a consumer loop should range over.
func (m *Mailbox) Recv() <-chan Detection {
	return m.ch
}
