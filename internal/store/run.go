package store

import (
	"database/sql"
	"errors"
	"time"
)

// RunStatus is the outcome of a segmentation run.
type RunStatus string

const (
	// RunOK means a mask was produced and a path was found.
	RunOK RunStatus = "ok"
	// RunNoPath means the mask was produced but the goal was unreachable.
	RunNoPath RunStatus = "no_path"
	// RunFailed means no usable mask was produced.
	RunFailed RunStatus = "failed"
)

// Run records one segmentation request.
type Run struct {
	ID            string    `json:"id"`
	Scene         string    `json:"scene"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	GoalRow       int       `json:"goal_row"`
	GoalCol       int       `json:"goal_col"`
	Markers       int       `json:"markers"`
	ObstacleRatio float64   `json:"obstacle_ratio"`
	PathLen       int       `json:"path_len"`
	Status        RunStatus `json:"status"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunRepository stores segmentation runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

const runColumns = `id, scene, width, height, goal_row, goal_col, markers, obstacle_ratio,
	path_len, status, error, duration_ms, created_at`

// Create inserts a run.
func (r *RunRepository) Create(run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT INTO segmentation_runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scene, run.Width, run.Height, run.GoalRow, run.GoalCol, run.Markers,
		run.ObstacleRatio, run.PathLen, string(run.Status), run.Error, run.DurationMs, run.CreatedAt,
	)
	return err
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM segmentation_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// Latest returns the most recent successful run.
func (r *RunRepository) Latest() (*Run, error) {
	run, err := scanRun(r.db.QueryRow(
		`SELECT `+runColumns+` FROM segmentation_runs
		 WHERE status != 'failed' ORDER BY created_at DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns up to limit runs, newest first. A limit <= 0 lists all.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+runColumns+` FROM segmentation_runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status string
	err := row.Scan(&run.ID, &run.Scene, &run.Width, &run.Height, &run.GoalRow, &run.GoalCol,
		&run.Markers, &run.ObstacleRatio, &run.PathLen, &status, &run.Error, &run.DurationMs, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	return run, nil
}
