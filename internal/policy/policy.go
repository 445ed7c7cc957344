// Package policy implements the shift state machine: a pure function
// from a subject's attendance history to the next action. It holds no
// state of its own and performs no I/O.
package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/attendo/kiosk-engine/internal/directory"
	"github.com/attendo/kiosk-engine/internal/settings"
	"github.com/attendo/kiosk-engine/internal/store"
)

// ActionKind enumerates the shapes Decide can return.
type ActionKind string

const (
	ActionClockIn  ActionKind = "clock_in"
	ActionClockOut ActionKind = "clock_out"
	ActionCheckOut ActionKind = "check_out"
	ActionCheckIn  ActionKind = "check_in"
	ActionReject   ActionKind = "reject"
)

// RejectReason enumerates the reason codes Decide can attach to a Reject action.
type RejectReason string

const (
	ReasonEarlyClockout          RejectReason = "early_clockout"
	ReasonAlreadyClockedIn       RejectReason = "already_clocked_in"
	ReasonAlreadyClockedOut      RejectReason = "already_clocked_out"
	ReasonOutsideCheckWindow     RejectReason = "outside_check_window"
	ReasonNightShiftBeforeCutoff RejectReason = "night_shift_before_cutoff"
)

// Shift labels, used verbatim on committed records and outcomes.
const (
	LabelEarlyShift    = "Early Shift"
	LabelRegularShift  = "Regular Shift"
	LabelDayShift      = "Day Shift"
	LabelNightShift    = "Night Shift"
	LabelSecurityShift = "Security Shift"
)

// Action is the verdict Decide returns for one decision point.
type Action struct {
	Kind          ActionKind
	Late          bool
	ShiftLabel    string
	OvertimeHours int
	NeedsLocation bool
	Reason        RejectReason
}

// Input bundles everything Decide needs to reach a verdict.
type Input struct {
	Role            directory.Role
	TodayRecords    []store.Record
	PriorDayRecords []store.Record
	Now             time.Time

	// ForceClockOut marks an explicit clock-out request (a dedicated kiosk
	// control, distinct from a routine recognition sighting, which always
	// toggles check in/out before the shift's minimum clock-out time).
	// Without it, a sighting before cutoff always reinterprets as a check
	// toggle, per the shift rules; early_clockout is otherwise unreachable.
	ForceClockOut bool

	// Emergency marks the emergency override path: it bypasses the
	// early_clockout cutoff and forces a zero-overtime, non-late ClockOut.
	Emergency bool

	Live settings.Shift
}

// Decide is the pure shift policy. It performs no I/O and reads no state
// beyond its Input.
func Decide(in Input) Action {
	if in.Role == directory.RoleSecurity {
		return decideSecurity(in)
	}
	return decideStaff(in)
}

// GroupEligible implements the group-eligibility predicate shared by the
// shift policy and the group buffer: the subject must be clocked in, not
// finally clocked out, currently "inside" (last check, if any, is
// direction=in), and strictly before their final-clockout cutoff.
func GroupEligible(in Input) (bool, RejectReason) {
	lastClock := lastOfKind(in.TodayRecords, store.KindClock)
	if lastClock == nil {
		return false, "not_clocked_in"
	}
	if lastClock.Direction == store.DirectionOut {
		return false, "final_clock_out"
	}

	lastCheck := lastOfKind(in.TodayRecords, store.KindCheck)
	if lastCheck != nil && lastCheck.Direction == store.DirectionOut {
		return false, "already_checked_out"
	}

	cutoff := cutoffFor(in.Role, lastClock.Timestamp, in.Now, in.Live)
	if !in.Now.Before(cutoff) {
		return false, ReasonOutsideCheckWindow
	}
	return true, ""
}

func decideStaff(in Input) Action {
	lastClock := lastOfKind(in.TodayRecords, store.KindClock)

	if lastClock == nil {
		late := minutesOfDay(in.Now) >= 8*60
		return Action{Kind: ActionClockIn, Late: late, ShiftLabel: staffShiftLabel(in.Now)}
	}

	if lastClock.Direction == store.DirectionOut {
		return Action{Kind: ActionReject, Reason: ReasonAlreadyClockedOut}
	}

	shiftLabel := staffShiftLabel(lastClock.Timestamp)
	cutoff := staffCutoff(lastClock.Timestamp, in.Now, in.Live)

	pastCutoff := !in.Now.Before(cutoff)
	if in.Emergency {
		return Action{Kind: ActionClockOut, Late: false, OvertimeHours: 0, ShiftLabel: shiftLabel}
	}
	if pastCutoff || in.ForceClockOut {
		if !pastCutoff {
			return Action{Kind: ActionReject, Reason: ReasonEarlyClockout}
		}
		return Action{Kind: ActionClockOut, ShiftLabel: shiftLabel}
	}

	return toggleCheck(in.TodayRecords)
}

func decideSecurity(in Input) Action {
	if unfinished := unfinishedPriorNightShift(in.PriorDayRecords); unfinished != nil {
		if minutesOfDay(in.Now) < 7*60 {
			return Action{Kind: ActionReject, Reason: ReasonNightShiftBeforeCutoff}
		}
		overtimeMinutes := minutesOfDay(in.Now) - 7*60
		overtimeHours := 0
		if overtimeMinutes > 0 {
			overtimeHours = overtimeMinutes / 60
		}
		return Action{Kind: ActionClockOut, OvertimeHours: overtimeHours, ShiftLabel: LabelNightShift}
	}

	lastClock := lastOfKind(in.TodayRecords, store.KindClock)
	if lastClock == nil {
		label, late := securityShiftFor(in.Now)
		return Action{Kind: ActionClockIn, Late: late, ShiftLabel: label}
	}

	if lastClock.Direction == store.DirectionOut {
		return Action{Kind: ActionReject, Reason: ReasonAlreadyClockedOut}
	}

	shiftLabel, _ := securityShiftFor(lastClock.Timestamp)
	cutoff := securityCutoff(lastClock.Timestamp, in.Now)

	pastCutoff := !in.Now.Before(cutoff)
	if in.Emergency {
		return Action{Kind: ActionClockOut, Late: false, OvertimeHours: 0, ShiftLabel: shiftLabel}
	}
	if pastCutoff || in.ForceClockOut {
		if !pastCutoff {
			return Action{Kind: ActionReject, Reason: ReasonEarlyClockout}
		}
		return Action{Kind: ActionClockOut, ShiftLabel: shiftLabel}
	}

	return toggleCheck(in.TodayRecords)
}

// toggleCheck implements "check last same-day check record; if none, next
// is CheckOut; otherwise alternate from last direction".
func toggleCheck(today []store.Record) Action {
	lastCheck := lastOfKind(today, store.KindCheck)
	if lastCheck == nil || lastCheck.Direction == store.DirectionIn {
		return Action{Kind: ActionCheckOut, NeedsLocation: true}
	}
	return Action{Kind: ActionCheckIn}
}

// unfinishedPriorNightShift returns the prior day's night ClockIn if it
// has no matching ClockOut, nil otherwise.
func unfinishedPriorNightShift(priorDay []store.Record) *store.Record {
	var nightIn *store.Record
	for i := range priorDay {
		r := &priorDay[i]
		if r.Kind == store.KindClock && r.Direction == store.DirectionIn && minutesOfDay(r.Timestamp) >= 18*60 {
			nightIn = r
		}
	}
	if nightIn == nil {
		return nil
	}
	for _, r := range priorDay {
		if r.Kind == store.KindClock && r.Direction == store.DirectionOut && r.Timestamp.After(nightIn.Timestamp) {
			return nil
		}
	}
	return nightIn
}

// securityShiftFor classifies a Security clock-in time into Day/Night/
// fallback Security shift, with the matching lateness rule.
func securityShiftFor(t time.Time) (label string, late bool) {
	m := minutesOfDay(t)
	switch {
	case m >= 6*60 && m < 12*60:
		return LabelDayShift, m > 7*60
	case m >= 18*60 || m < 1*60:
		return LabelNightShift, m >= 18*60 && m > 19*60
	default:
		return LabelSecurityShift, false
	}
}

func securityCutoff(clockIn, now time.Time) time.Time {
	label, _ := securityShiftFor(clockIn)
	day := time.Date(clockIn.Year(), clockIn.Month(), clockIn.Day(), 0, 0, 0, 0, clockIn.Location())
	if label == LabelNightShift {
		return day.AddDate(0, 0, 1).Add(7 * time.Hour)
	}
	return day.Add(19 * time.Hour)
}

func staffShiftLabel(clockIn time.Time) string {
	if minutesOfDay(clockIn) < 8*60 {
		return LabelEarlyShift
	}
	return LabelRegularShift
}

func staffCutoff(clockIn, now time.Time, live settings.Shift) time.Time {
	day := time.Date(clockIn.Year(), clockIn.Month(), clockIn.Day(), 0, 0, 0, 0, clockIn.Location())
	hhmm := live.RegularShiftMinClockout
	if minutesOfDay(clockIn) < 8*60 {
		hhmm = live.EarlyShiftMinClockout
	}
	return day.Add(parseHHMM(hhmm))
}

func lastOfKind(records []store.Record, kind store.Kind) *store.Record {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind == kind {
			return &records[i]
		}
	}
	return nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// parseHHMM parses "HH:MM" into a duration since midnight. Malformed
// input yields zero, which fails safe toward "already past cutoff" rather
// than permanently blocking clock-out.
func parseHHMM(s string) time.Duration {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func cutoffFor(role directory.Role, clockIn, now time.Time, live settings.Shift) time.Time {
	if role == directory.RoleSecurity {
		return securityCutoff(clockIn, now)
	}
	return staffCutoff(clockIn, now, live)
}
