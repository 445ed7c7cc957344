// Package store implements the append-only record store: attendance
// records are written once, may be patched exactly once (location and/or
// emergency annotation) before any later record for the same subject-day,
// and are always readable in insertion order.
package store

import (
	"context"
	"errors"
	"time"
)

// Method is how an identity event was captured.
type Method string

const (
	MethodFace   Method = "face"
	MethodCode   Method = "code"
	MethodManual Method = "manual"
)

// Kind distinguishes a shift boundary record from a check in/out toggle.
type Kind string

const (
	KindClock Kind = "clock"
	KindCheck Kind = "check"
)

// Direction is which way the record moves the subject.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Category classifies a location for reporting purposes.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
)

// Location annotates a CheckOut (always) or emergency ClockOut record.
type Location struct {
	Name     string
	Address  string
	Category Category
}

// Emergency annotates an emergency-override ClockOut record.
type Emergency struct {
	Reason string
}

// Record is one append-only attendance event.
type Record struct {
	ID            int64
	SubjectID     string
	Timestamp     time.Time
	Method        Method
	Kind          Kind
	Direction     Direction
	Late          bool
	OvertimeHours int
	Location      *Location
	Emergency     *Emergency
}

// Patch describes the one-time, exactly-once annotation a record may
// receive after creation.
type Patch struct {
	Location  *Location
	Emergency *Emergency
}

// Errors returned by Patch's three-way result.
var (
	ErrNotFound       = errors.New("store: record not found")
	ErrAlreadyPatched = errors.New("store: record already patched")
)

// Store is the record store interface the engine and group buffer
// depend on. Implementations must preserve insertion order when
// queried by (subject_id, day).
type Store interface {
	// Append inserts a new record atomically and returns its assigned id.
	Append(ctx context.Context, r Record) (int64, error)
	// Patch applies a one-time annotation. Returns ErrNotFound or
	// ErrAlreadyPatched when the post-condition cannot be met.
	Patch(ctx context.Context, recordID int64, p Patch) error
	// Delete removes a record outright; used only as the compensating
	// action of a failed write-then-patch CheckOut.
	Delete(ctx context.Context, recordID int64) error
	// Today returns today's records for subjectID, in insertion order.
	Today(ctx context.Context, subjectID string, now time.Time) ([]Record, error)
	// OnDay returns subjectID's records for the given calendar day.
	OnDay(ctx context.Context, subjectID string, day time.Time) ([]Record, error)
}
