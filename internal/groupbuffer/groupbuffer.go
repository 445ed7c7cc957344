// Package groupbuffer implements the group checkout buffer: it
// collects eligible subjects under one pending batch and commits them
// all against a single supplied location in one operator action. It
// never writes a ClockIn or ClockOut; it is exclusively a batched
// checkout facility.
package groupbuffer

import (
	"context"
	"sync"
	"time"

	"github.com/attendo/kiosk-engine/internal/policy"
	"github.com/attendo/kiosk-engine/internal/settings"
	"github.com/attendo/kiosk-engine/internal/store"
)

// ReasonCommitInProgress is returned for an admission attempted while a
// commit is in flight and the buffer's mode is reject_admissions.
const ReasonCommitInProgress policy.RejectReason = "group_commit_in_progress"

// ReasonAlreadyInGroup is returned when a subject already has a pending
// admission.
const ReasonAlreadyInGroup policy.RejectReason = "already_in_group"

// Entry is one admitted subject, in the order it was admitted.
type Entry struct {
	SubjectID   string
	DisplayName string
	AdmittedAt  time.Time
}

// AdmitResult is the verdict for one admission attempt.
type AdmitResult struct {
	Admitted bool
	Queued   bool
	Reason   policy.RejectReason
}

// CommitOne is one subject's outcome from a Commit call.
type CommitOne struct {
	SubjectID string
	RecordID  int64
	Err       error
}

// CommitResult is the full outcome of a Commit call.
type CommitResult struct {
	Committed []CommitOne
	Failed    []CommitOne
}

// Recheck re-validates one admitted subject's eligibility at commit time;
// a subject may have become ineligible between admission and commit (e.g.
// it clocked out through a routine sighting in the meantime).
type Recheck func(ctx context.Context, subjectID string) (eligible bool, reason policy.RejectReason, err error)

// CommitOneFunc writes the actual CheckOut record for one subject once it
// has passed the commit-time recheck.
type CommitOneFunc func(ctx context.Context, subjectID string, loc store.Location) (recordID int64, err error)

// pendingAdmission is an admission attempted while a commit was in
// flight under queue_admissions mode.
type pendingAdmission struct {
	subjectID   string
	displayName string
}

// Buffer is the group checkout buffer. Safe for concurrent use, though
// the engine is expected to serialize its calls.
type Buffer struct {
	mu         sync.Mutex
	entries    map[string]Entry
	order      []string
	committing bool
	pending    []pendingAdmission
}

// New constructs an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[string]Entry)}
}

// Admit evaluates one identity event for group admission. eligible/reason
// must already reflect the group-eligibility predicate (policy.GroupEligible)
// evaluated by the caller against the subject's current records; Admit
// itself only manages buffer membership and the commit-in-progress race.
func (b *Buffer) Admit(subjectID, displayName string, now time.Time, eligible bool, reason policy.RejectReason, mode settings.GroupCommitMode) AdmitResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[subjectID]; ok {
		return AdmitResult{Reason: ReasonAlreadyInGroup}
	}

	if b.committing {
		if mode == settings.GroupCommitQueue {
			b.pending = append(b.pending, pendingAdmission{subjectID: subjectID, displayName: displayName})
			return AdmitResult{Queued: true}
		}
		return AdmitResult{Reason: ReasonCommitInProgress}
	}

	if !eligible {
		return AdmitResult{Reason: reason}
	}

	b.entries[subjectID] = Entry{SubjectID: subjectID, DisplayName: displayName, AdmittedAt: now}
	b.order = append(b.order, subjectID)
	return AdmitResult{Admitted: true}
}

// Count returns the number of currently buffered subjects.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Entries returns a snapshot of the buffer in admission order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.entries[id])
	}
	return out
}

// ClearGroup empties the buffer unconditionally.
func (b *Buffer) ClearGroup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]Entry)
	b.order = nil
}

// Commit re-validates every buffered entry in admission order, writes a
// CheckOut record for each still-eligible one via commitOne, and clears
// only the entries that committed successfully. It marks the buffer as
// committing for the duration so concurrent Admit calls observe whichever
// mode they were each called with, then drains any queued admissions
// once finished. The mode itself is an Admit-time decision, not a
// Commit-time one, so Commit takes no mode argument.
//
// Commit holds no lock across recheck/commitOne calls — those are I/O
// and must not hold the buffer mutex — so it snapshots the order first
// and reconciles membership afterward.
func (b *Buffer) Commit(ctx context.Context, loc store.Location, recheck Recheck, commitOne CommitOneFunc) CommitResult {
	b.mu.Lock()
	order := append([]string(nil), b.order...)
	entries := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	b.committing = true
	b.mu.Unlock()

	var result CommitResult
	succeeded := make(map[string]bool, len(order))

	for _, subjectID := range order {
		eligible, reason, err := recheck(ctx, subjectID)
		if err != nil {
			result.Failed = append(result.Failed, CommitOne{SubjectID: subjectID, Err: err})
			continue
		}
		if !eligible {
			result.Failed = append(result.Failed, CommitOne{SubjectID: subjectID, Err: rejectError(reason)})
			continue
		}
		recordID, err := commitOne(ctx, subjectID, loc)
		if err != nil {
			result.Failed = append(result.Failed, CommitOne{SubjectID: subjectID, Err: err})
			continue
		}
		result.Committed = append(result.Committed, CommitOne{SubjectID: subjectID, RecordID: recordID})
		succeeded[subjectID] = true
	}

	b.mu.Lock()
	for id := range succeeded {
		delete(b.entries, id)
	}
	if len(succeeded) > 0 {
		newOrder := b.order[:0:0]
		for _, id := range b.order {
			if !succeeded[id] {
				newOrder = append(newOrder, id)
			}
		}
		b.order = newOrder
	}
	b.committing = false
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, p := range pending {
		b.mu.Lock()
		if _, ok := b.entries[p.subjectID]; !ok {
			b.entries[p.subjectID] = Entry{SubjectID: p.subjectID, DisplayName: p.displayName, AdmittedAt: time.Now()}
			b.order = append(b.order, p.subjectID)
		}
		b.mu.Unlock()
	}

	return result
}

type rejectErr struct{ reason policy.RejectReason }

func (e rejectErr) Error() string { return string(e.reason) }

func rejectError(reason policy.RejectReason) error { return rejectErr{reason: reason} }

// RejectReasonOf extracts the policy.RejectReason from an error produced
// by rejectError, for callers that want the structured code back out of a
// CommitOne.Err.
func RejectReasonOf(err error) (policy.RejectReason, bool) {
	re, ok := err.(rejectErr)
	if !ok {
		return "", false
	}
	return re.reason, true
}
