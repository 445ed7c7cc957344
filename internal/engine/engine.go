// Package engine implements the attendance engine: it drives directory
// lookup through shift policy to the record store, owns the
// location-gated commit protocol and the emergency override, and is the
// only component with side effects.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/attendo/kiosk-engine/internal/clock"
	"github.com/attendo/kiosk-engine/internal/directory"
	"github.com/attendo/kiosk-engine/internal/groupbuffer"
	"github.com/attendo/kiosk-engine/internal/health"
	"github.com/attendo/kiosk-engine/internal/location"
	"github.com/attendo/kiosk-engine/internal/outcome"
	"github.com/attendo/kiosk-engine/internal/policy"
	"github.com/attendo/kiosk-engine/internal/settings"
	"github.com/attendo/kiosk-engine/internal/store"
)

// EventKind classifies a normalized identity event coming out of the
// boundary adapters.
type EventKind string

const (
	EventRecognized EventKind = "recognized"
	EventTyped      EventKind = "typed"
	EventScanned    EventKind = "scanned"
	EventUnknown    EventKind = "unknown"
)

// IdentityEvent is the single event shape the boundary adapters
// normalize face, code, and manual input into.
type IdentityEvent struct {
	Kind      EventKind
	SubjectID string
}

// NewRecognizedEvent wraps a face-recognition result that cleared the
// recognizer's acceptance threshold.
func NewRecognizedEvent(subjectID string) IdentityEvent {
	return IdentityEvent{Kind: EventRecognized, SubjectID: subjectID}
}

// NewTypedEvent wraps a manually entered subject id.
func NewTypedEvent(subjectID string) IdentityEvent {
	return IdentityEvent{Kind: EventTyped, SubjectID: subjectID}
}

// NewScannedEvent wraps a scanned machine-readable code, which encodes a
// subject id directly.
func NewScannedEvent(code string) IdentityEvent {
	return IdentityEvent{Kind: EventScanned, SubjectID: code}
}

// UnknownEvent is emitted when a promoted sighting never resolved to a
// subject — the recognizer returned Unknown for it.
var UnknownEvent = IdentityEvent{Kind: EventUnknown}

func (e IdentityEvent) method() store.Method {
	switch e.Kind {
	case EventRecognized:
		return store.MethodFace
	case EventScanned:
		return store.MethodCode
	default:
		return store.MethodManual
	}
}

// forceClockOut reports whether this event kind represents a deliberate,
// single action (typed id, scanned badge) as opposed to an ambient,
// repeated, inherently ambiguous passive face sighting. Deliberate events
// attempt the subject's "obvious" next action outright, so an attempt
// that lands before the shift's cutoff is a genuine early_clockout
// rejection rather than a silent toggle reinterpretation.
func (e IdentityEvent) forceClockOut() bool {
	return e.Kind == EventTyped || e.Kind == EventScanned
}

// Engine orchestrates the pipeline and owns every side effect: directory
// lookups, policy decisions, the location-gated commit, and outcome
// publication.
type Engine struct {
	Directory directory.Directory
	Store     store.Store
	Watcher   *settings.Watcher
	Picker    location.Picker
	Bus       outcome.Bus
	Buffer    *groupbuffer.Buffer
	Clock     clock.Clock

	// Health records class 4 fatal infrastructure errors for /healthz.
	// Optional: a nil Health drops them, the engine keeps serving either way.
	Health *health.Recorder

	// RetryBackoff is how long a failed Store.Append waits before the one
	// retry class 3 infrastructure errors get. Zero disables the wait,
	// which tests use to stay fast; New sets a 500ms production default.
	RetryBackoff time.Duration

	mu        sync.Mutex
	groupMode bool

	cooldownMu    sync.Mutex
	faceCooldown  cooldownGate
	codeCooldown  cooldownGate
}

// New wires the engine's collaborators together.
func New(dir directory.Directory, st store.Store, watcher *settings.Watcher, picker location.Picker, bus outcome.Bus, buf *groupbuffer.Buffer, clk clock.Clock) *Engine {
	return &Engine{
		Directory:    dir,
		Store:        st,
		Watcher:      watcher,
		Picker:       picker,
		Bus:          bus,
		Buffer:       buf,
		Clock:        clk,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// appendWithRetry writes r to the store, retrying exactly once after
// RetryBackoff on failure before surfacing the error. A first-attempt
// failure is the class 3 transient case (store_unavailable); only a
// failure on the retry itself is class 4 fatal.
func (e *Engine) appendWithRetry(ctx context.Context, r store.Record) (int64, error) {
	id, err := e.Store.Append(ctx, r)
	if err == nil {
		return id, nil
	}
	slog.Warn("engine: store append failed, retrying once", "subject_id", r.SubjectID, "error", err)
	time.Sleep(e.RetryBackoff)
	return e.Store.Append(ctx, r)
}

// SetGroupMode toggles group checkout mode on or off.
func (e *Engine) SetGroupMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupMode = on
}

// GroupMode reports whether group checkout mode is active.
func (e *Engine) GroupMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupMode
}

// cooldownGate remembers, per category, when the last event was let
// through, measured on the engine's clock.
type cooldownGate struct {
	last map[string]time.Time
}

// allow reports whether category may proceed now. On suppression it also
// returns how long the caller still has to wait, so a cooldown_active
// rejection can tell a presenter "try again in N seconds" instead of a
// bare boolean (the original kiosk's cooldown_remaining display).
func (g *cooldownGate) allow(window time.Duration, category string, now time.Time) (bool, time.Duration) {
	if window <= 0 {
		return true, 0
	}
	if prev, ok := g.last[category]; ok {
		if elapsed := now.Sub(prev); elapsed < window {
			return false, window - elapsed
		}
	}
	if g.last == nil {
		g.last = make(map[string]time.Time)
	}
	g.last[category] = now
	return true, 0
}

// Submit runs the full pipeline for one identity event. It never blocks
// the caller beyond what's needed to serialize decision-making and,
// where applicable, await the location picker.
func (e *Engine) Submit(ctx context.Context, event IdentityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event.Kind == EventUnknown {
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, RejectReason: "subject_not_found"})
		return
	}

	live := e.Watcher.Current()
	now := e.Clock.Now()

	if event.Kind != EventTyped {
		if ok, remaining := e.checkCooldown(event, live, now); !ok {
			e.publish(ctx, &outcome.Outcome{
				Type:              outcome.TypeAttendanceRejected,
				SubjectID:         event.SubjectID,
				RejectReason:      "cooldown_active",
				CooldownRemaining: remaining,
			})
			return
		}
	}

	subject, err := e.Directory.Lookup(ctx, event.SubjectID)
	if err != nil {
		e.publish(ctx, &outcome.Outcome{
			Type:         outcome.TypeAttendanceRejected,
			SubjectID:    event.SubjectID,
			RejectReason: "subject_not_found",
		})
		return
	}

	today, err := e.Store.Today(ctx, subject.ID, now)
	if err != nil {
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: "commit_failed"})
		return
	}
	priorDay, err := e.Store.OnDay(ctx, subject.ID, now.AddDate(0, 0, -1))
	if err != nil {
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: "commit_failed"})
		return
	}

	in := policy.Input{
		Role:            subject.Role,
		TodayRecords:    today,
		PriorDayRecords: priorDay,
		Now:             now,
		ForceClockOut:   event.forceClockOut(),
		Live:            live,
	}

	if e.groupMode {
		e.admitToGroup(ctx, subject, in, live)
		return
	}

	e.decideAndCommit(ctx, subject, event, in)
}

func (e *Engine) checkCooldown(event IdentityEvent, live settings.Shift, now time.Time) (bool, time.Duration) {
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()
	switch event.method() {
	case store.MethodFace:
		return e.faceCooldown.allow(live.ScanCooldownFace, event.SubjectID, now)
	case store.MethodCode:
		return e.codeCooldown.allow(live.ScanCooldownCode, event.SubjectID, now)
	default:
		return true, 0
	}
}

func (e *Engine) admitToGroup(ctx context.Context, subject *directory.Subject, in policy.Input, live settings.Shift) {
	eligible, reason := policy.GroupEligible(in)
	res := e.Buffer.Admit(subject.ID, subject.Name, in.Now, eligible, reason, live.GroupCommitMode)
	switch {
	case res.Admitted:
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeGroupAdmitted, SubjectID: subject.ID})
	case res.Queued:
		// Queued admissions are silently folded into the buffer once the
		// in-flight commit finishes; no outcome is published for them.
	default:
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeGroupRejected, SubjectID: subject.ID, RejectReason: res.Reason})
	}
}

func (e *Engine) decideAndCommit(ctx context.Context, subject *directory.Subject, event IdentityEvent, in policy.Input) {
	action := policy.Decide(in)

	if action.Kind == policy.ActionReject {
		if action.Reason == policy.ReasonEarlyClockout {
			e.offerEmergency(ctx, subject, event, in)
			return
		}
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: action.Reason})
		return
	}

	if action.NeedsLocation {
		e.commitWithLocation(ctx, subject, event, action, location.PurposeCheckout, nil)
		return
	}

	e.commit(ctx, subject, event, action, nil, nil)
}

// offerEmergency asks the location picker for an EmergencyContext; the
// picker itself is responsible for presenting the early_clockout
// rejection and the option to override it. A cancellation is a plain
// rejection, not an override.
func (e *Engine) offerEmergency(ctx context.Context, subject *directory.Subject, event IdentityEvent, in policy.Input) {
	ec, err := e.Picker.PickEmergency(ctx, subject.ID)
	if err != nil {
		if !errors.Is(err, location.ErrCancelled) {
			e.Health.Record("location_patch_failed", err, e.Clock.Now())
		}
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: policy.ReasonEarlyClockout})
		return
	}

	emergencyIn := in
	emergencyIn.Emergency = true
	action := policy.Decide(emergencyIn)
	if action.Kind != policy.ActionClockOut {
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: action.Reason})
		return
	}

	emergency := &store.Emergency{Reason: ec.Reason}
	e.commit(ctx, subject, event, action, &ec.Location, emergency)
}

// commitWithLocation requests a location for a routine CheckOut before
// committing; cancellation yields AttendanceAborted, never a
// location-less record (the location-gated commit invariant).
func (e *Engine) commitWithLocation(ctx context.Context, subject *directory.Subject, event IdentityEvent, action policy.Action, purpose location.Purpose, emergency *store.Emergency) {
	loc, err := e.Picker.Pick(ctx, purpose, subject.ID)
	if err != nil {
		if !errors.Is(err, location.ErrCancelled) {
			e.Health.Record("location_patch_failed", err, e.Clock.Now())
		}
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceAborted, SubjectID: subject.ID, AbortReason: "location_cancelled"})
		return
	}
	e.commit(ctx, subject, event, action, &loc, emergency)
}

func (e *Engine) commit(ctx context.Context, subject *directory.Subject, event IdentityEvent, action policy.Action, loc *store.Location, emergency *store.Emergency) {
	rec := store.Record{
		SubjectID:     subject.ID,
		Timestamp:     e.Clock.Now(),
		Method:        event.method(),
		Late:          action.Late,
		OvertimeHours: action.OvertimeHours,
		Location:      loc,
		Emergency:     emergency,
	}
	switch action.Kind {
	case policy.ActionClockIn:
		rec.Kind, rec.Direction = store.KindClock, store.DirectionIn
	case policy.ActionClockOut:
		rec.Kind, rec.Direction = store.KindClock, store.DirectionOut
	case policy.ActionCheckIn:
		rec.Kind, rec.Direction = store.KindCheck, store.DirectionIn
	case policy.ActionCheckOut:
		rec.Kind, rec.Direction = store.KindCheck, store.DirectionOut
	}

	id, err := e.appendWithRetry(ctx, rec)
	if err != nil {
		slog.Warn("engine: commit failed after retry", "subject_id", subject.ID, "error", err)
		e.Health.Record("store_write_failed", err, e.Clock.Now())
		e.publish(ctx, &outcome.Outcome{Type: outcome.TypeAttendanceRejected, SubjectID: subject.ID, RejectReason: "commit_failed"})
		return
	}

	e.publish(ctx, &outcome.Outcome{
		Type:          outcome.TypeAttendanceCommitted,
		SubjectID:     subject.ID,
		Action:        action.Kind,
		Late:          action.Late,
		OvertimeHours: action.OvertimeHours,
		ShiftLabel:    action.ShiftLabel,
		RecordID:      id,
		Location:      loc,
		Emergency:     emergency,
	})
}

// CommitGroup runs the group buffer's commit phase against loc, using the
// engine's directory/store to re-validate each subject's eligibility at
// commit time.
func (e *Engine) CommitGroup(ctx context.Context, loc store.Location) outcome.Outcome {
	e.mu.Lock()
	live := e.Watcher.Current()
	e.mu.Unlock()

	if e.Buffer.Count() == 0 {
		o := outcome.Outcome{Type: outcome.TypeAttendanceAborted, AbortReason: "group_commit_empty"}
		e.publish(ctx, &o)
		return o
	}

	recheck := func(ctx context.Context, subjectID string) (bool, policy.RejectReason, error) {
		subject, err := e.Directory.Lookup(ctx, subjectID)
		if err != nil {
			return false, "", err
		}
		now := e.Clock.Now()
		today, err := e.Store.Today(ctx, subject.ID, now)
		if err != nil {
			return false, "", err
		}
		in := policy.Input{Role: subject.Role, TodayRecords: today, Now: now, Live: live}
		eligible, reason := policy.GroupEligible(in)
		return eligible, reason, nil
	}

	commitOne := func(ctx context.Context, subjectID string, loc store.Location) (int64, error) {
		id, err := e.appendWithRetry(ctx, store.Record{
			SubjectID: subjectID,
			Timestamp: e.Clock.Now(),
			Method:    store.MethodFace,
			Kind:      store.KindCheck,
			Direction: store.DirectionOut,
			Location:  &loc,
		})
		if err != nil {
			e.Health.Record("store_write_failed", err, e.Clock.Now())
		}
		return id, err
	}

	result := e.Buffer.Commit(ctx, loc, recheck, commitOne)

	groupResults := make([]outcome.GroupCommitOne, 0, len(result.Committed)+len(result.Failed))
	for _, c := range result.Committed {
		groupResults = append(groupResults, outcome.GroupCommitOne{SubjectID: c.SubjectID, RecordID: c.RecordID})
	}
	for _, f := range result.Failed {
		groupResults = append(groupResults, outcome.GroupCommitOne{SubjectID: f.SubjectID, Error: f.Err.Error()})
	}

	o := outcome.Outcome{Type: outcome.TypeGroupCommitResult, GroupResults: groupResults}
	e.publish(ctx, &o)
	return o
}

func (e *Engine) publish(ctx context.Context, o *outcome.Outcome) {
	if err := e.Bus.Publish(ctx, o); err != nil {
		slog.Warn("engine: outcome publish failed", "type", o.Type, "error", err)
	}
}

