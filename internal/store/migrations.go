package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Segmentation runs - one row per PROCESS_SEGMENTATION request
		`CREATE TABLE IF NOT EXISTS segmentation_runs (
			id TEXT PRIMARY KEY,
			scene TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			goal_row INTEGER NOT NULL DEFAULT -1,
			goal_col INTEGER NOT NULL DEFAULT -1,
			markers INTEGER NOT NULL DEFAULT 0,
			obstacle_ratio REAL NOT NULL DEFAULT 0,
			path_len INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('ok', 'no_path', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Selections - cells confirmed by a dwell in combat mode
		`CREATE TABLE IF NOT EXISTS selections (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			run_id TEXT REFERENCES segmentation_runs(id) ON DELETE SET NULL,
			row INTEGER NOT NULL,
			col INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_segmentation_runs_created_at ON segmentation_runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_selections_connection_id ON selections(connection_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
