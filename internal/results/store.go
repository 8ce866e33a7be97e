// Package results persists optimization runs and Pareto solutions to SQLite
// so past runs can be listed and re-examined without re-running the search.
package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/idossha/TI-Toolbox-sub001/internal/pareto"
	"github.com/idossha/TI-Toolbox-sub001/internal/search"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

// Run is a persisted single-objective result with its target and identity.
type Run struct {
	ID        string
	Method    string
	CreatedAt time.Time
	Target    target.Spec
	Result    search.Run
}

// Store wraps the SQLite database holding runs and solutions.
type Store struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates a store for the given DSN. Init must be called before use.
func NewStore(dsn string) *Store {
	return &Store{dsn: dsn}
}

// Init opens the database and creates the schema if needed.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("results: sqlite DSN is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			method         TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			target_x       REAL NOT NULL,
			target_y       REAL NOT NULL,
			target_z       REAL NOT NULL,
			radius_mm      REAL NOT NULL,
			e1             INTEGER NOT NULL,
			e2             INTEGER NOT NULL,
			e3             INTEGER NOT NULL,
			e4             INTEGER NOT NULL,
			current_ratio  INTEGER NOT NULL,
			field_strength REAL NOT NULL,
			evaluations    INTEGER NOT NULL,
			success        INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS solutions (
			run_id          TEXT NOT NULL,
			solution_index  INTEGER NOT NULL,
			e1              INTEGER NOT NULL,
			e2              INTEGER NOT NULL,
			e3              INTEGER NOT NULL,
			e4              INTEGER NOT NULL,
			current_ratio   INTEGER NOT NULL,
			intensity_field REAL NOT NULL,
			focality        REAL NOT NULL,
			improvements    INTEGER NOT NULL,
			elapsed_seconds REAL NOT NULL,
			PRIMARY KEY (run_id, solution_index)
		);
	`)
	return err
}

// SaveRun persists a single-objective result and returns its generated id.
func (s *Store) SaveRun(ctx context.Context, spec target.Spec, result *search.Run) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, method, created_at, target_x, target_y, target_z, radius_mm,
			e1, e2, e3, e4, current_ratio, field_strength, evaluations, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(result.Method), time.Now().UTC().Format(time.RFC3339),
		spec.Coord[0], spec.Coord[1], spec.Coord[2], spec.Radius,
		result.Electrodes[0], result.Electrodes[1], result.Electrodes[2], result.Electrodes[3],
		result.CurrentRatio, result.FieldStrength, result.Evaluations, boolToInt(result.Success))
	if err != nil {
		return "", fmt.Errorf("results: save run: %w", err)
	}
	return id, nil
}

// SaveSolutions persists a Pareto batch under a new run id.
func (s *Store) SaveSolutions(ctx context.Context, spec target.Spec, solutions []pareto.Solution) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, method, created_at, target_x, target_y, target_z, radius_mm,
			e1, e2, e3, e4, current_ratio, field_strength, evaluations, success)
		VALUES (?, 'pareto', ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, 0, 0, 1)
	`, id, time.Now().UTC().Format(time.RFC3339),
		spec.Coord[0], spec.Coord[1], spec.Coord[2], spec.Radius)
	if err != nil {
		return "", fmt.Errorf("results: save pareto run: %w", err)
	}

	for _, sol := range solutions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO solutions (run_id, solution_index, e1, e2, e3, e4,
				current_ratio, intensity_field, focality, improvements, elapsed_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, sol.SolutionIndex,
			sol.Electrodes[0], sol.Electrodes[1], sol.Electrodes[2], sol.Electrodes[3],
			sol.CurrentRatio, sol.IntensityField, sol.Focality,
			sol.Improvements, sol.Elapsed.Seconds())
		if err != nil {
			return "", fmt.Errorf("results: save solution %d: %w", sol.SolutionIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetRun loads a persisted single-objective run by id. The boolean reports
// whether the id exists.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	var (
		run       Run
		createdAt string
		success   int
		method    string
	)
	run.ID = id
	err = db.QueryRowContext(ctx, `
		SELECT method, created_at, target_x, target_y, target_z, radius_mm,
			e1, e2, e3, e4, current_ratio, field_strength, evaluations, success
		FROM runs WHERE id = ?
	`, id).Scan(&method, &createdAt,
		&run.Target.Coord[0], &run.Target.Coord[1], &run.Target.Coord[2], &run.Target.Radius,
		&run.Result.Electrodes[0], &run.Result.Electrodes[1],
		&run.Result.Electrodes[2], &run.Result.Electrodes[3],
		&run.Result.CurrentRatio, &run.Result.FieldStrength, &run.Result.Evaluations, &success)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}

	run.Method = method
	run.Result.Method = search.Method(method)
	run.Result.Success = success != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}
	return run, true, nil
}

// GetSolutions loads a persisted Pareto batch by run id.
func (s *Store) GetSolutions(ctx context.Context, runID string) ([]pareto.Solution, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT solution_index, e1, e2, e3, e4, current_ratio,
			intensity_field, focality, improvements, elapsed_seconds
		FROM solutions WHERE run_id = ? ORDER BY solution_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pareto.Solution
	for rows.Next() {
		var sol pareto.Solution
		var elapsedSeconds float64
		if err := rows.Scan(&sol.SolutionIndex,
			&sol.Electrodes[0], &sol.Electrodes[1], &sol.Electrodes[2], &sol.Electrodes[3],
			&sol.CurrentRatio, &sol.IntensityField, &sol.Focality,
			&sol.Improvements, &elapsedSeconds); err != nil {
			return nil, err
		}
		sol.Elapsed = time.Duration(elapsedSeconds * float64(time.Second))
		out = append(out, sol)
	}
	return out, rows.Err()
}

// ListRunIDs returns ids of all runs, newest first.
func (s *Store) ListRunIDs(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("results: store not initialized")
	}
	return s.db, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
