package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory is the system of record for subjects, backed by a
// `subjects` table and a `subject_embeddings` table (one row per
// embedding vector, since a subject may have zero or more).
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory wraps an already-open *sql.DB. The caller owns the
// connection lifecycle (open/close).
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Lookup fetches a subject and its embeddings by id.
func (d *PostgresDirectory) Lookup(ctx context.Context, subjectID string) (*Subject, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, role FROM subjects WHERE id = $1
	`, subjectID)

	var s Subject
	if err := row.Scan(&s.ID, &s.Name, &s.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: lookup %s: %w", subjectID, err)
	}

	embeddings, err := d.embeddingsFor(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	s.Embeddings = embeddings
	return &s, nil
}

// AllWithEmbeddings returns every subject that has at least one enrolled
// embedding, for warm-cache population and bulk recognizer comparisons.
func (d *PostgresDirectory) AllWithEmbeddings(ctx context.Context) ([]*Subject, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.name, s.role
		FROM subjects s
		JOIN subject_embeddings e ON e.subject_id = s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("directory: list with embeddings: %w", err)
	}
	defer rows.Close()

	var out []*Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Role); err != nil {
			return nil, fmt.Errorf("directory: scan subject: %w", err)
		}
		embeddings, err := d.embeddingsFor(context.Background(), s.ID)
		if err != nil {
			return nil, err
		}
		s.Embeddings = embeddings
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) embeddingsFor(ctx context.Context, subjectID string) ([][]byte, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT vector FROM subject_embeddings WHERE subject_id = $1
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("directory: embeddings for %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("directory: scan embedding: %w", err)
		}
		out = append(out, blob)
	}
	return out, rows.Err()
}
