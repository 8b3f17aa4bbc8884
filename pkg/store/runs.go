package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// QARun is one persisted QA planning run.
type QARun struct {
	ID         string
	CreatedAt  time.Time
	Model      string
	Workbook   string
	Matrix     string
	Evaluation string
	Iterations int
	Accepted   bool
}

// SaveRun inserts run. The ID must be unique.
func (s *Store) SaveRun(ctx context.Context, run QARun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qa_runs (id, created_at, model, workbook, matrix, evaluation, iterations, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.Model, run.Workbook,
		run.Matrix, run.Evaluation, run.Iterations, boolToInt(run.Accepted),
	)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (QARun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, model, workbook, matrix, evaluation, iterations, accepted
		FROM qa_runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QARun{}, ErrNotFound
	}
	if err != nil {
		return QARun{}, fmt.Errorf("store: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]QARun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, created_at, model, workbook, matrix, evaluation, iterations, accepted
		FROM qa_runs ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []QARun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list runs: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (QARun, error) {
	var (
		run      QARun
		created  string
		accepted int
	)

	if err := sc.Scan(&run.ID, &created, &run.Model, &run.Workbook,
		&run.Matrix, &run.Evaluation, &run.Iterations, &accepted); err != nil {
		return QARun{}, err
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return QARun{}, fmt.Errorf("parse created_at: %w", err)
	}

	run.CreatedAt = t
	run.Accepted = accepted != 0

	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
