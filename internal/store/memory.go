package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store, used by tests and by the engine's own
// test suite as a stand-in for PostgresStore.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[int64]*Record)}
}

func (m *Memory) Append(ctx context.Context, r Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = m.nextID
	m.records[r.ID] = &r
	return r.ID, nil
}

func (m *Memory) Patch(ctx context.Context, recordID int64, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordID]
	if !ok {
		return ErrNotFound
	}
	if r.Location != nil || r.Emergency != nil {
		return ErrAlreadyPatched
	}
	r.Location = p.Location
	r.Emergency = p.Emergency
	return nil
}

func (m *Memory) Delete(ctx context.Context, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, recordID)
	return nil
}

func (m *Memory) Today(ctx context.Context, subjectID string, now time.Time) ([]Record, error) {
	return m.OnDay(ctx, subjectID, now)
}

func (m *Memory) OnDay(ctx context.Context, subjectID string, day time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	ids := make([]int64, 0, len(m.records))
	for id, r := range m.records {
		if r.SubjectID != subjectID {
			continue
		}
		if r.Timestamp.Before(startOfDay) || !r.Timestamp.Before(endOfDay) {
			continue
		}
		ids = append(ids, id)
	}
	// insertion order == ascending id, since Append assigns ids monotonically
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.records[id])
	}
	return out, nil
}
