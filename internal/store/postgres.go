package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore is the system of record for attendance records, backed by
// an `attendance_records` table. Location and emergency annotations are
// stored as nullable JSONB columns so Patch can set them independent of
// the rest of the row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts r and returns the id Postgres assigned it.
func (s *PostgresStore) Append(ctx context.Context, r Record) (int64, error) {
	locationJSON, err := json.Marshal(r.Location)
	if err != nil {
		return 0, fmt.Errorf("store: marshal location: %w", err)
	}
	emergencyJSON, err := json.Marshal(r.Emergency)
	if err != nil {
		return 0, fmt.Errorf("store: marshal emergency: %w", err)
	}

	var id int64
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(subject_id, ts, method, kind, direction, late, overtime_hours, location, emergency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, r.SubjectID, r.Timestamp, r.Method, r.Kind, r.Direction, r.Late, r.OvertimeHours, locationJSON, emergencyJSON)

	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: append: %w", err)
	}
	return id, nil
}

// Patch sets location and/or emergency on a record that hasn't been
// patched yet. The WHERE clause enforces exactly-once at the database
// level: the UPDATE only matches a row whose patched_at is still null,
// so a concurrent second Patch call sees zero rows affected.
func (s *PostgresStore) Patch(ctx context.Context, recordID int64, p Patch) error {
	locationJSON, err := json.Marshal(p.Location)
	if err != nil {
		return fmt.Errorf("store: marshal patch location: %w", err)
	}
	emergencyJSON, err := json.Marshal(p.Emergency)
	if err != nil {
		return fmt.Errorf("store: marshal patch emergency: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET location = COALESCE(location, $2), emergency = COALESCE(emergency, $3), patched_at = now()
		WHERE id = $1 AND patched_at IS NULL
	`, recordID, locationJSON, emergencyJSON)
	if err != nil {
		return fmt.Errorf("store: patch %d: %w", recordID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: patch %d rows affected: %w", recordID, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM attendance_records WHERE id = $1)`, recordID).Scan(&exists); err != nil {
		return fmt.Errorf("store: patch %d existence check: %w", recordID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyPatched
}

// Delete removes a record outright.
func (s *PostgresStore) Delete(ctx context.Context, recordID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, recordID); err != nil {
		return fmt.Errorf("store: delete %d: %w", recordID, err)
	}
	return nil
}

// Today returns subjectID's records for now's calendar day.
func (s *PostgresStore) Today(ctx context.Context, subjectID string, now time.Time) ([]Record, error) {
	return s.OnDay(ctx, subjectID, now)
}

// OnDay returns subjectID's records for day's calendar date, oldest first.
func (s *PostgresStore) OnDay(ctx context.Context, subjectID string, day time.Time) ([]Record, error) {
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, ts, method, kind, direction, late, overtime_hours, location, emergency
		FROM attendance_records
		WHERE subject_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY id ASC
	`, subjectID, startOfDay, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("store: on day %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var locationJSON, emergencyJSON []byte
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Timestamp, &r.Method, &r.Kind, &r.Direction,
			&r.Late, &r.OvertimeHours, &locationJSON, &emergencyJSON); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		if err := json.Unmarshal(locationJSON, &r.Location); err != nil {
			return nil, fmt.Errorf("store: unmarshal location: %w", err)
		}
		if err := json.Unmarshal(emergencyJSON, &r.Emergency); err != nil {
			return nil, fmt.Errorf("store: unmarshal emergency: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
