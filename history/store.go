// Package history records tool invocations in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/joncooperworks/toolhost/executor"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	tool        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	args        TEXT NOT NULL DEFAULT '{}',
	duration_ms INTEGER NOT NULL,
	started_at  INTEGER NOT NULL -- unix nanoseconds
);
CREATE INDEX IF NOT EXISTS invocations_tool ON invocations (tool, started_at);
`

// ErrNotFound is returned by Get for unknown record IDs.
var ErrNotFound = errors.New("invocation not found")

// Record is one stored invocation.
type Record struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Duration  time.Duration  `json:"duration"`
	StartedAt time.Time      `json:"started_at"`
}

// Store persists invocation records. It satisfies executor.Observer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens (or creates) the database at path and ensures the schema
// exists. The caller is responsible for calling Close.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Observe records inv. Write failures are logged and otherwise ignored so a
// broken history never fails an invocation.
func (s *Store) Observe(ctx context.Context, inv executor.Invocation) {
	if _, err := s.Add(ctx, inv); err != nil {
		s.logger.Error("failed to record invocation", "tool", inv.Tool, "id", inv.ID, "error", err)
	}
}

// Add stores inv and returns its record ID. An invocation without an ID is
// given a new one.
func (s *Store) Add(ctx context.Context, inv executor.Invocation) (string, error) {
	id := inv.ID
	if id == "" {
		id = uuid.NewString()
	}
	args := []byte("{}")
	if len(inv.Args) > 0 {
		var err error
		if args, err = json.Marshal(inv.Args); err != nil {
			args = []byte("{}")
			s.logger.Warn("invocation arguments are not serializable", "tool", inv.Tool, "error", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (id, tool, status, message, args, duration_ms, started_at)
		VALUES (?,?,?,?,?,?,?)`,
		id, inv.Tool, inv.Status, inv.Message, string(args),
		inv.Duration.Milliseconds(), inv.Started.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert invocation: %w", err)
	}
	return id, nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool, status, message, args, duration_ms, started_at
		FROM invocations WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Query filters List results. Zero values mean no filter.
type Query struct {
	Tool   string
	Status string
	Since  time.Time
	// Limit caps the number of records. Defaults to 100.
	Limit int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]*Record, error) {
	query := `SELECT id, tool, status, message, args, duration_ms, started_at FROM invocations WHERE 1=1`
	var args []any
	if q.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, q.Tool)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	if !q.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, q.Since.UnixNano())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ToolStats aggregates the invocations of one tool.
type ToolStats struct {
	Tool        string        `json:"tool"`
	Calls       int           `json:"calls"`
	Failures    int           `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Stats returns per-tool aggregates ordered by tool name.
func (s *Store) Stats(ctx context.Context) ([]ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool, COUNT(*), SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), AVG(duration_ms)
		FROM invocations GROUP BY tool ORDER BY tool`, executor.StatusError)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStats
	for rows.Next() {
		var st ToolStats
		var avg float64
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Failures, &avg); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.AvgDuration = time.Duration(avg * float64(time.Millisecond))
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Prune deletes records started before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r        Record
		args     string
		duration int64
		started  int64
	)
	if err := row.Scan(&r.ID, &r.Tool, &r.Status, &r.Message, &args, &duration, &started); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, started).UTC()
	r.Duration = time.Duration(duration) * time.Millisecond
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
			return nil, fmt.Errorf("decode args of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
