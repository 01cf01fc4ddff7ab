package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"attendkiosk/internal/store"
)

// Dialect selects the journal database flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS capture_attempts (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	student_id  TEXT NOT NULL DEFAULT '',
	mode        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	frames      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS capture_attempts_student_idx ON capture_attempts (student_id, finished_at DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS capture_attempts (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	student_id  TEXT NOT NULL DEFAULT '',
	mode        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	frames      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS capture_attempts_student_idx ON capture_attempts (student_id, finished_at DESC);
`

const attemptColumns = `id, session_id, student_id, mode, outcome, reason, message, frames, started_at, finished_at, created_at`

// Repository persists the capture-attempt journal.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRepository creates a repo for db. An empty dialect means Postgres.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	if dialect == "" {
		dialect = Postgres
	}
	return &Repository{db: db, dialect: dialect}
}

// EnsureSchema creates the journal table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := postgresSchema
	if r.dialect == SQLite {
		schema = sqliteSchema
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// InsertAttempt writes an attempt; an existing id is left untouched.
func (r *Repository) InsertAttempt(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		return errors.New("attempt id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capture_attempts (id, session_id, student_id, mode, outcome, reason, message, frames, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.SessionID, a.StudentID, a.Mode, a.Outcome, a.Reason, a.Message, a.Frames, a.StartedAt, a.FinishedAt)
	return err
}

// ListAttempts returns attempts newest first, optionally for one student.
func (r *Repository) ListAttempts(ctx context.Context, studentID string, limit, offset int) ([]Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + attemptColumns + ` FROM capture_attempts`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		args = append(args, studentID)
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StudentID, &a.Mode, &a.Outcome, &a.Reason, &a.Message, &a.Frames, &a.StartedAt, &a.FinishedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// OpenJournal connects to the journal database for driver ("postgres" or
// "sqlite"), ensures the schema and returns the service with its handle.
func OpenJournal(ctx context.Context, driver, databaseURL, sqlitePath string) (*Service, *store.DB, error) {
	var (
		db      *store.DB
		err     error
		dialect Dialect
	)
	switch Dialect(driver) {
	case SQLite:
		db, err = store.NewSQLite(ctx, sqlitePath)
		dialect = SQLite
	case Postgres, "":
		db, err = store.NewDB(ctx, databaseURL)
		dialect = Postgres
	default:
		return nil, nil, fmt.Errorf("unknown journal driver %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	repo := NewRepository(db.Client, dialect)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return NewService(repo), db, nil
}
