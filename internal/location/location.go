// Package location provides the out-of-scope geocoding/location-picker
// collaborator the engine calls before committing a CheckOut or emergency
// ClockOut: the core never writes a located record without first asking
// for, and receiving, a location.
package location

import (
	"context"

	"github.com/attendo/kiosk-engine/internal/store"
)

// Purpose distinguishes why the engine is asking for a location, so a
// presenter can tailor its prompt.
type Purpose string

const (
	PurposeCheckout      Purpose = "checkout"
	PurposeGroupCheckout Purpose = "group_checkout"
	PurposeEmergency     Purpose = "emergency"
)

// EmergencyContext is what a presenter returns when an early_clockout
// rejection is resolved via the emergency override: a reason plus the
// location the override still requires.
type EmergencyContext struct {
	Reason   string
	Location store.Location
}

// ErrCancelled is returned by Picker.Pick when the operator cancels the
// prompt instead of supplying a location.
var ErrCancelled = cancelledError{}

type cancelledError struct{}

func (cancelledError) Error() string { return "location: picker cancelled" }

// Picker asks whatever out-of-scope UI surface is attached (kiosk touch
// prompt, remote operator console) for a location. It blocks until the
// operator answers or ctx is cancelled.
type Picker interface {
	Pick(ctx context.Context, purpose Purpose, subjectID string) (store.Location, error)

	// PickEmergency asks for the EmergencyContext (reason plus location)
	// that resolves an early_clockout rejection via the override. It
	// blocks until the operator answers or ctx is cancelled, same as Pick.
	PickEmergency(ctx context.Context, subjectID string) (EmergencyContext, error)
}

// ManualPicker is a Picker that always returns a fixed location; it exists
// for tests and for kiosks with no location prompt configured (single
// known work site).
type ManualPicker struct {
	Location store.Location
}

// NewManualPicker returns a Picker fixed to loc.
func NewManualPicker(loc store.Location) *ManualPicker {
	return &ManualPicker{Location: loc}
}

func (p *ManualPicker) Pick(ctx context.Context, purpose Purpose, subjectID string) (store.Location, error) {
	return p.Location, nil
}

// PickEmergency returns the fixed location with no reason: a ManualPicker
// has no operator to ask, so the reason stays empty the same way the
// original kiosk's emergency_reason defaulted to "" with no prompt.
func (p *ManualPicker) PickEmergency(ctx context.Context, subjectID string) (EmergencyContext, error) {
	return EmergencyContext{Location: p.Location}, nil
}
