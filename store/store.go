// Package store persists sweep and check history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/stockwatch/dbopen"
)

// Store is the history database handle.
type Store struct {
	DB *sql.DB

	now func() time.Time
}

// Open opens (or creates) the history database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already opened database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Sweep is one pass over all links.
type Sweep struct {
	ID         string `json:"id"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Links      int    `json:"links"`
	InStock    int    `json:"in_stock"`
}

// Check is one recorded verdict.
type Check struct {
	ID         string `json:"id"`
	SweepID    string `json:"sweep_id"`
	URL        string `json:"url"`
	Host       string `json:"host"`
	State      string `json:"state"`
	Found      bool   `json:"found"`
	Attempts   int    `json:"attempts"`
	HTMLHash   string `json:"html_hash"`
	DurationMs int64  `json:"duration_ms"`
	CheckedAt  int64  `json:"checked_at"` // epoch milliseconds
}

// StartSweep inserts a sweep row.
func (s *Store) StartSweep(ctx context.Context, id string, links int) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO sweeps (id, started_at, links) VALUES (?,?,?)`,
		id, s.now().UnixMilli(), links)
	if err != nil {
		return fmt.Errorf("store: start sweep: %w", err)
	}
	return nil
}

// FinishSweep stamps the sweep's end and in-stock count.
func (s *Store) FinishSweep(ctx context.Context, id string, inStock int) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE sweeps SET finished_at = ?, in_stock = ? WHERE id = ?`,
		s.now().UnixMilli(), inStock, id)
	if err != nil {
		return fmt.Errorf("store: finish sweep: %w", err)
	}
	return nil
}

// RecordCheck inserts a check row. CheckedAt defaults to now.
func (s *Store) RecordCheck(ctx context.Context, c *Check) error {
	if c.CheckedAt == 0 {
		c.CheckedAt = s.now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO checks
			(id, sweep_id, url, host, state, found, attempts, html_hash, duration_ms, checked_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SweepID, c.URL, c.Host, c.State, boolInt(c.Found),
		c.Attempts, c.HTMLHash, c.DurationMs, c.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("store: record check: %w", err)
	}
	return nil
}

// GetSweep retrieves a sweep by ID. Returns nil when absent.
func (s *Store) GetSweep(ctx context.Context, id string) (*Sweep, error) {
	sw := &Sweep{}
	var finished sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, links, in_stock FROM sweeps WHERE id = ?`, id).
		Scan(&sw.ID, &sw.StartedAt, &finished, &sw.Links, &sw.InStock)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get sweep: %w", err)
	}
	sw.FinishedAt = finished.Int64
	return sw, nil
}

// RecentChecks returns the most recent checks, newest first.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]Check, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, sweep_id, url, host, state, found, attempts, html_hash, duration_ms, checked_at
		FROM checks
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent checks: %w", err)
	}
	return scanChecks(rows)
}

// LatestByURL returns the newest check of every URL, ordered by URL.
func (s *Store) LatestByURL(ctx context.Context) ([]Check, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.sweep_id, c.url, c.host, c.state, c.found, c.attempts,
		       c.html_hash, c.duration_ms, c.checked_at
		FROM checks c
		WHERE c.id = (
			SELECT id FROM checks WHERE url = c.url
			ORDER BY checked_at DESC, id DESC LIMIT 1
		)
		ORDER BY c.url`)
	if err != nil {
		return nil, fmt.Errorf("store: latest checks: %w", err)
	}
	return scanChecks(rows)
}

func scanChecks(rows *sql.Rows) ([]Check, error) {
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var c Check
		var found int
		if err := rows.Scan(&c.ID, &c.SweepID, &c.URL, &c.Host, &c.State, &found,
			&c.Attempts, &c.HTMLHash, &c.DurationMs, &c.CheckedAt); err != nil {
			return nil, fmt.Errorf("store: scan check: %w", err)
		}
		c.Found = found != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
