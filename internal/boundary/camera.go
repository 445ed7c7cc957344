package boundary

import (
	"context"

	"github.com/attendo/kiosk-engine/internal/engine"
	"github.com/attendo/kiosk-engine/internal/recognizer"
	"github.com/attendo/kiosk-engine/internal/settings"
	"github.com/attendo/kiosk-engine/internal/sighting"
)

// CameraAdapter drains a Mailbox, runs each detection through the
// sighting filter and, once it promotes to Ready, through the recognizer
// bridge, then submits the resulting identity event to the engine. It is
// the camera half of a single combined detection-and-dispatch loop,
// here split into separate sighting and recognizer stages ahead of the
// engine rather than inlined.
type CameraAdapter struct {
	Mailbox *Mailbox
	Filter  *sighting.Filter
	Bridge  *recognizer.Bridge
	Watcher *settings.Watcher
	Engine  *engine.Engine
}

// NewCameraAdapter wires a CameraAdapter's collaborators together.
func NewCameraAdapter(mailbox *Mailbox, filter *sighting.Filter, bridge *recognizer.Bridge, watcher *settings.Watcher, eng *engine.Engine) *CameraAdapter {
	return &CameraAdapter{Mailbox: mailbox, Filter: filter, Bridge: bridge, Watcher: watcher, Engine: eng}
}

// Run blocks, handling detections as they arrive, until ctx is cancelled.
func (c *CameraAdapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-c.Mailbox.Recv():
			c.handle(ctx, d)
		}
	}
}

func (c *CameraAdapter) handle(ctx context.Context, d Detection) {
	live := c.Watcher.Current()
	outcome := c.Filter.Evaluate(live, sighting.Detection{
		CenterX:    d.CenterX,
		CenterY:    d.CenterY,
		BBoxW:      d.BBoxW,
		BBoxH:      d.BBoxH,
		Confidence: d.Confidence,
		FrameIndex: d.FrameIndex,
		Now:        d.Now,
	})
	if outcome != sighting.Ready {
		return
	}

	result := c.Bridge.Identify(ctx, d.Frame, d.BBox)
	if result.Unknown {
		c.Engine.Submit(ctx, engine.UnknownEvent)
		return
	}
	c.Engine.Submit(ctx, engine.NewRecognizedEvent(result.SubjectID))
}
