package store

import (
	"database/sql"
	"time"
)

// Selection is a grid cell confirmed by a player.
type Selection struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	RunID        string    `json:"run_id,omitempty"`
	Row          int       `json:"row"`
	Col          int       `json:"col"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	CreatedAt    time.Time `json:"created_at"`
}

// SelectionRepository stores confirmed selections.
type SelectionRepository struct {
	db *sql.DB
}

// Selections returns the selection repository for this store.
func (s *Store) Selections() *SelectionRepository {
	return &SelectionRepository{db: s.db}
}

// Create inserts a selection.
func (r *SelectionRepository) Create(sel *Selection) error {
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = time.Now()
	}
	var runID any
	if sel.RunID != "" {
		runID = sel.RunID
	}
	_, err := r.db.Exec(
		`INSERT INTO selections (id, connection_id, run_id, row, col, x, y, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sel.ID, sel.ConnectionID, runID, sel.Row, sel.Col, sel.X, sel.Y, sel.CreatedAt,
	)
	return err
}

// List returns up to limit selections, newest first. A non-empty
// connectionID restricts the result to one connection.
func (r *SelectionRepository) List(connectionID string, limit int) ([]*Selection, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, connection_id, COALESCE(run_id, ''), row, col, x, y, created_at
		 FROM selections WHERE ? = '' OR connection_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		connectionID, connectionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selections []*Selection
	for rows.Next() {
		sel := &Selection{}
		if err := rows.Scan(&sel.ID, &sel.ConnectionID, &sel.RunID, &sel.Row, &sel.Col, &sel.X, &sel.Y, &sel.CreatedAt); err != nil {
			return nil, err
		}
		selections = append(selections, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selections, nil
}

// Count returns the number of stored selections.
func (r *SelectionRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM selections`).Scan(&n)
	return n, err
}
