package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeDirectory struct {
	subjects map[string]*directory.Subject
}

func newFakeDirectory(subjects ...*directory.Subject) *fakeDirectory {
	d := &fakeDirectory{subjects: make(map[string]*directory.Subject)}
	for _, s := range subjects {
		d.subjects[s.ID] = s
	}
	return d
}

func (d *fakeDirectory) Lookup(ctx context.Context, subjectID string) (*directory.Subject, error) {
	s, ok := d.subjects[subjectID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return s, nil
}

func (d *fakeDirectory) AllWithEmbeddings(ctx context.Context) ([]*directory.Subject, error) {
	var out []*directory.Subject
	for _, s := range d.subjects {
		out = append(out, s)
	}
	return out, nil
}

type fakePicker struct {
	mu        sync.Mutex
	responses []pickerResponse
	calls     []location.Purpose
}

type pickerResponse struct {
	loc    store.Location
	reason string
	err    error
}

func (p *fakePicker) Pick(ctx context.Context, purpose location.Purpose, subjectID string) (store.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, purpose)
	if len(p.responses) == 0 {
		return store.Location{Name: "default"}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r.loc, r.err
}

func (p *fakePicker) PickEmergency(ctx context.Context, subjectID string) (location.EmergencyContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, location.PurposeEmergency)
	if len(p.responses) == 0 {
		return location.EmergencyContext{Location: store.Location{Name: "default"}}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return location.EmergencyContext{Reason: r.reason, Location: r.loc}, r.err
}

func collectOutcomes(bus outcome.Bus) (*[]outcome.Outcome, func()) {
	var mu sync.Mutex
	var got []outcome.Outcome
	unsub := bus.Subscribe(func(ctx context.Context, o *outcome.Outcome) error {
		mu.Lock()
		got = append(got, *o)
		mu.Unlock()
		return nil
	})
	return &got, unsub
}

func waitForCount(t *testing.T, got *[]outcome.Outcome, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(*got) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outcomes, got %d", n, len(*got))
}

func newTestEngine(t *testing.T, subjects ...*directory.Subject) (*Engine, *fakeDirectory, *fakePicker, *clock.Fake, *[]outcome.Outcome) {
	dir := newFakeDirectory(subjects...)
	st := store.NewMemory()
	fakeSrc := staticSource{shift: settings.Defaults()}
	watcher := settings.NewWatcher(fakeSrc, time.Hour)
	picker := &fakePicker{}
	bus := outcome.NewLocalBus()
	buf := groupbuffer.New()
	fc := clock.NewFake()

	e := New(dir, st, watcher, picker, bus, buf, fc)
	e.RetryBackoff = 0
	got, _ := collectOutcomes(bus)
	return e, dir, picker, fc, got
}

// flakyStore fails the first N calls to Append, then delegates.
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	failTimes int
}

func (f *flakyStore) Append(ctx context.Context, r store.Record) (int64, error) {
	f.mu.Lock()
	if f.failTimes > 0 {
		f.failTimes--
		f.mu.Unlock()
		return 0, assert.AnError
	}
	f.mu.Unlock()
	return f.Store.Append(ctx, r)
}

type staticSource struct{ shift settings.Shift }

func (s staticSource) Read(ctx context.Context) (settings.Shift, error) { return s.shift, nil }

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestEngine_HappyStaffDay(t *testing.T) {
	s1 := &directory.Subject{ID: "s1", Name: "Staff One", Role: directory.RoleStaff}
	e, _, picker, fc, got := newTestEngine(t, s1)
	picker.responses = []pickerResponse{
		{loc: store.Location{Name: "L1"}},
	}

	fc.SetOverride(at(7, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 1)
	assert.Equal(t, outcome.TypeAttendanceCommitted, (*got)[0].Type)
	assert.Equal(t, policy.ActionClockIn, (*got)[0].Action)
	assert.False(t, (*got)[0].Late)

	fc.SetOverride(at(12, 0))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 2)
	assert.Equal(t, policy.ActionCheckOut, (*got)[1].Action)
	require.NotNil(t, (*got)[1].Location)
	assert.Equal(t, "L1", (*got)[1].Location.Name)

	fc.SetOverride(at(13, 0))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 3)
	assert.Equal(t, policy.ActionCheckIn, (*got)[2].Action)

	fc.SetOverride(at(17, 20))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 4)
	assert.Equal(t, policy.ActionClockOut, (*got)[3].Action)
	assert.Zero(t, (*got)[3].OvertimeHours)

	fc.SetOverride(at(17, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 5)
	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[4].Type)
	assert.Equal(t, policy.ReasonAlreadyClockedOut, (*got)[4].RejectReason)
}

func TestEngine_LateStaff(t *testing.T) {
	s2 := &directory.Subject{ID: "s2", Name: "Staff Two", Role: directory.RoleStaff}
	e, _, picker, fc, got := newTestEngine(t, s2)
	picker.responses = []pickerResponse{{loc: store.Location{Name: "L2"}}}

	fc.SetOverride(at(8, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s2"))
	waitForCount(t, got, 1)
	assert.True(t, (*got)[0].Late)
	assert.Equal(t, policy.LabelRegularShift, (*got)[0].ShiftLabel)

	fc.SetOverride(at(17, 10))
	e.Submit(context.Background(), NewRecognizedEvent("s2"))
	waitForCount(t, got, 2)
	assert.Equal(t, policy.ActionCheckOut, (*got)[1].Action)

	fc.SetOverride(at(17, 20))
	e.Submit(context.Background(), NewRecognizedEvent("s2"))
	waitForCount(t, got, 3)
	assert.Equal(t, policy.ActionClockOut, (*got)[2].Action)
}

func TestEngine_EarlyClockoutRejectionThenEmergencyOverride(t *testing.T) {
	s3 := &directory.Subject{ID: "s3", Name: "Staff Three", Role: directory.RoleStaff}
	e, _, picker, fc, got := newTestEngine(t, s3)

	fc.SetOverride(at(7, 55))
	e.Submit(context.Background(), NewRecognizedEvent("s3"))
	waitForCount(t, got, 1)
	require.False(t, (*got)[0].Late)

	fc.SetOverride(at(16, 30))
	picker.responses = []pickerResponse{{loc: store.Location{Name: "L3"}, reason: "family"}}
	// a deliberate typed clock-out attempt, not an ambient face sighting
	e.Submit(context.Background(), NewTypedEvent("s3"))
	waitForCount(t, got, 2)
	assert.Equal(t, outcome.TypeAttendanceCommitted, (*got)[1].Type)
	assert.Equal(t, policy.ActionClockOut, (*got)[1].Action)
	require.NotNil(t, (*got)[1].Emergency)
	assert.Equal(t, "family", (*got)[1].Emergency.Reason)
	require.NotNil(t, (*got)[1].Location)
	assert.Equal(t, "L3", (*got)[1].Location.Name)
	assert.Zero(t, (*got)[1].OvertimeHours)
	assert.False(t, (*got)[1].Late)
}

func TestEngine_EarlyClockoutRejectedOutrightWhenEmergencyDeclined(t *testing.T) {
	s3 := &directory.Subject{ID: "s3", Name: "Staff Three", Role: directory.RoleStaff}
	e, _, picker, fc, got := newTestEngine(t, s3)

	fc.SetOverride(at(7, 55))
	e.Submit(context.Background(), NewRecognizedEvent("s3"))
	waitForCount(t, got, 1)

	fc.SetOverride(at(16, 30))
	picker.responses = []pickerResponse{{err: location.ErrCancelled}}
	e.Submit(context.Background(), NewTypedEvent("s3"))
	waitForCount(t, got, 2)
	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[1].Type)
	assert.Equal(t, policy.ReasonEarlyClockout, (*got)[1].RejectReason)
}

func TestEngine_SecurityNightOvertime(t *testing.T) {
	s4 := &directory.Subject{ID: "s4", Name: "Guard Four", Role: directory.RoleSecurity}
	e, _, _, fc, got := newTestEngine(t, s4)

	st := e.Store
	_, err := st.Append(context.Background(), store.Record{
		SubjectID: "s4",
		Timestamp: time.Date(2026, 3, 1, 19, 5, 0, 0, time.UTC),
		Method:    store.MethodFace,
		Kind:      store.KindClock,
		Direction: store.DirectionIn,
		Late:      true,
	})
	require.NoError(t, err)

	fc.SetOverride(at(9, 0))
	e.Submit(context.Background(), NewRecognizedEvent("s4"))
	waitForCount(t, got, 1)
	assert.Equal(t, outcome.TypeAttendanceCommitted, (*got)[0].Type)
	assert.Equal(t, policy.ActionClockOut, (*got)[0].Action)
	assert.Equal(t, 2, (*got)[0].OvertimeHours)
}

func TestEngine_GroupCheckout(t *testing.T) {
	subjects := []*directory.Subject{
		{ID: "s1", Name: "S1", Role: directory.RoleStaff},
		{ID: "s5", Name: "S5", Role: directory.RoleStaff},
		{ID: "s6", Name: "S6", Role: directory.RoleStaff},
		{ID: "s7", Name: "S7", Role: directory.RoleStaff},
	}
	e, _, _, fc, got := newTestEngine(t, subjects...)

	for _, id := range []string{"s1", "s5", "s6"} {
		_, err := e.Store.Append(context.Background(), store.Record{
			SubjectID: id,
			Timestamp: at(8, 0),
			Method:    store.MethodFace,
			Kind:      store.KindClock,
			Direction: store.DirectionIn,
		})
		require.NoError(t, err)
	}

	fc.SetOverride(at(12, 0))
	e.SetGroupMode(true)
	for _, id := range []string{"s1", "s5", "s6", "s7"} {
		e.Submit(context.Background(), NewRecognizedEvent(id))
	}
	waitForCount(t, got, 4)

	admitted := 0
	var rejectedID string
	for _, o := range *got {
		switch o.Type {
		case outcome.TypeGroupAdmitted:
			admitted++
		case outcome.TypeGroupRejected:
			rejectedID = o.SubjectID
		}
	}
	assert.Equal(t, 3, admitted)
	assert.Equal(t, "s7", rejectedID)

	result := e.CommitGroup(context.Background(), store.Location{Name: "Lg", Category: store.CategoryWork})
	assert.Equal(t, outcome.TypeGroupCommitResult, result.Type)
	assert.Len(t, result.GroupResults, 3)
	for _, r := range result.GroupResults {
		assert.Empty(t, r.Error)
	}
	assert.Equal(t, 0, e.Buffer.Count())
}

func TestEngine_CooldownSuppressesRepeatFaceRecognition(t *testing.T) {
	s1 := &directory.Subject{ID: "s1", Name: "S1", Role: directory.RoleStaff}
	e, _, _, fc, got := newTestEngine(t, s1)

	fc.SetOverride(at(7, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 1)

	fc.SetOverride(at(7, 30).Add(1 * time.Second))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 2)
	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[1].Type)
	assert.Equal(t, policy.RejectReason("cooldown_active"), (*got)[1].RejectReason)
}

func TestEngine_TypedInputNeverCooldownSuppressed(t *testing.T) {
	s1 := &directory.Subject{ID: "s1", Name: "S1", Role: directory.RoleStaff}
	e, _, picker, fc, got := newTestEngine(t, s1)

	fc.SetOverride(at(7, 30))
	e.Submit(context.Background(), NewTypedEvent("s1"))
	waitForCount(t, got, 1)

	// decline the emergency override offered for the early clock-out
	picker.responses = []pickerResponse{{err: location.ErrCancelled}}
	fc.SetOverride(at(7, 30).Add(time.Millisecond))
	e.Submit(context.Background(), NewTypedEvent("s1"))
	waitForCount(t, got, 2)
	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[1].Type)
	assert.Equal(t, policy.ReasonEarlyClockout, (*got)[1].RejectReason)
}

// A CheckOut (or emergency ClockOut) must never reach either the record
// store or an outcome.Outcome without a location: commit only ever runs
// after Picker.Pick has returned successfully, so a failing or
// cancelling picker must produce a rejection/abort instead of a write.
func TestEngine_CheckoutNeverObservedWithoutLocation(t *testing.T) {
	cases := []struct {
		name    string
		pick    pickerResponse
		wantErr bool
	}{
		{name: "picker succeeds", pick: pickerResponse{loc: store.Location{Name: "HQ"}}},
		{name: "picker cancelled by operator", pick: pickerResponse{err: location.ErrCancelled}, wantErr: true},
		{name: "picker fails with infra error", pick: pickerResponse{err: assert.AnError}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &directory.Subject{ID: "s1", Name: "S1", Role: directory.RoleStaff}
			e, _, picker, fc, got := newTestEngine(t, s)

			fc.SetOverride(at(7, 30))
			e.Submit(context.Background(), NewRecognizedEvent("s1"))
			waitForCount(t, got, 1)

			fc.SetOverride(at(12, 0))
			picker.responses = []pickerResponse{tc.pick}
			e.Submit(context.Background(), NewRecognizedEvent("s1"))
			waitForCount(t, got, 2)

			second := (*got)[1]
			if tc.wantErr {
				assert.NotEqual(t, outcome.TypeAttendanceCommitted, second.Type)
				assert.Nil(t, second.Location)
			} else {
				require.Equal(t, outcome.TypeAttendanceCommitted, second.Type)
				require.NotNil(t, second.Location)
			}

			records, err := e.Store.Today(context.Background(), "s1", at(12, 0))
			require.NoError(t, err)
			for _, r := range records {
				if r.Kind == store.KindCheck && r.Direction == store.DirectionOut {
					assert.NotNil(t, r.Location, "a persisted CheckOut record must always carry a location")
				}
			}
		})
	}
}

func TestEngine_CommitSurvivesOneTransientStoreFailure(t *testing.T) {
	s1 := &directory.Subject{ID: "s1", Name: "S1", Role: directory.RoleStaff}
	dir := newFakeDirectory(s1)
	fs := &flakyStore{Store: store.NewMemory(), failTimes: 1}
	watcher := settings.NewWatcher(staticSource{shift: settings.Defaults()}, time.Hour)
	picker := &fakePicker{}
	bus := outcome.NewLocalBus()
	buf := groupbuffer.New()
	fc := clock.NewFake()
	e := New(dir, fs, watcher, picker, bus, buf, fc)
	e.RetryBackoff = 0
	got, _ := collectOutcomes(bus)

	fc.SetOverride(at(7, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 1)

	assert.Equal(t, outcome.TypeAttendanceCommitted, (*got)[0].Type)
	_, health := e.Health.Latest()
	assert.False(t, health, "a single transient failure recovered by retry must not surface as a fatal health event")
}

func TestEngine_CommitFailsAfterRetryExhausted(t *testing.T) {
	s1 := &directory.Subject{ID: "s1", Name: "S1", Role: directory.RoleStaff}
	dir := newFakeDirectory(s1)
	fs := &flakyStore{Store: store.NewMemory(), failTimes: 2}
	watcher := settings.NewWatcher(staticSource{shift: settings.Defaults()}, time.Hour)
	picker := &fakePicker{}
	bus := outcome.NewLocalBus()
	buf := groupbuffer.New()
	fc := clock.NewFake()
	e := New(dir, fs, watcher, picker, bus, buf, fc)
	e.RetryBackoff = 0
	e.Health = health.NewRecorder()
	got, _ := collectOutcomes(bus)

	fc.SetOverride(at(7, 30))
	e.Submit(context.Background(), NewRecognizedEvent("s1"))
	waitForCount(t, got, 1)

	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[0].Type)
	assert.Equal(t, policy.RejectReason("commit_failed"), (*got)[0].RejectReason)
	fatal, ok := e.Health.Latest()
	require.True(t, ok)
	assert.Equal(t, "store_write_failed", fatal.Code)
}

func TestEngine_UnknownSubjectEmitsSubjectNotFound(t *testing.T) {
	e, _, _, fc, got := newTestEngine(t)
	fc.SetOverride(at(8, 0))
	e.Submit(context.Background(), NewRecognizedEvent("ghost"))
	waitForCount(t, got, 1)
	assert.Equal(t, outcome.TypeAttendanceRejected, (*got)[0].Type)
	assert.Equal(t, policy.RejectReason("subject_not_found"), (*got)[0].RejectReason)
}
