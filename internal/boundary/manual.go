package boundary

import (
	"context"
	"strings"

	"github.com/attendo/kiosk-engine/internal/engine"
)

// ManualAdapter submits a keyed-in subject id, the third of
// scanner_kiosk.py's intake paths (camera, scan, manual NRIC entry). It
// does no directory validation itself — an unknown id still reaches the
// engine, which is the single source of truth for subject_not_found.
type ManualAdapter struct {
	Engine *engine.Engine
}

// NewManualAdapter wires a ManualAdapter.
func NewManualAdapter(eng *engine.Engine) *ManualAdapter {
	return &ManualAdapter{Engine: eng}
}

// Submit trims subjectID and forwards it as a typed event. A blank id
// (an empty kiosk keypad entry) is reported as unknown rather than
// forwarded.
func (m *ManualAdapter) Submit(ctx context.Context, subjectID string) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		m.Engine.Submit(ctx, engine.UnknownEvent)
		return
	}
	m.Engine.Submit(ctx, engine.NewTypedEvent(subjectID))
}
