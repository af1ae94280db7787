package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	assert.NoFileExists(t, dbPath)

	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, s.Path())
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	exists := func(kind, name string) error {
		var got string
		return s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type=? AND name=?", kind, name,
		).Scan(&got)
	}

	for _, table := range []string{"segmentation_runs", "selections", "settings"} {
		assert.NoError(t, exists("table", table), table)
	}
	for _, idx := range []string{"idx_segmentation_runs_created_at", "idx_selections_connection_id"} {
		assert.NoError(t, exists("index", idx), idx)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Settings().Set("scene", "table"))
	require.NoError(t, s.Close())

	s, err = New(dbPath)
	require.NoError(t, err, "migrations must be idempotent")
	defer s.Close()

	v, err := s.Settings().Get("scene")
	require.NoError(t, err)
	assert.Equal(t, "table", v)
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.DB().Exec("SELECT 1")
	assert.Error(t, err, "DB operations should fail after close")
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled))
	assert.Equal(t, 1, fkEnabled)
}

func TestRunRepository(t *testing.T) {
	s := newTestStore(t)
	runs := s.Runs()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &Run{ID: "run-1", Scene: "wall", Width: 640, Height: 480, GoalRow: 8, GoalCol: 0,
		Markers: 1, ObstacleRatio: 0.2, PathLen: 21, Status: RunOK, DurationMs: 900, CreatedAt: base}
	failed := &Run{ID: "run-2", Scene: "table", Width: 640, Height: 480, GoalRow: -1, GoalCol: -1,
		Status: RunFailed, Error: "invalid mask", CreatedAt: base.Add(time.Minute)}

	for _, r := range []*Run{first, failed} {
		require.NoError(t, runs.Create(r), r.ID)
	}

	got, err := runs.GetByID("run-1")
	require.NoError(t, err)
	assert.Equal(t, 21, got.PathLen)
	assert.Equal(t, RunOK, got.Status)
	assert.Equal(t, "wall", got.Scene)

	_, err = runs.GetByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := runs.List(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID, "newest first")

	limited, err := runs.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err := runs.Latest()
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.ID, "Latest skips failed runs")
}

func TestRunRepository_LatestEmpty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Runs().Latest()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRepository_RejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t)
	err := s.Runs().Create(&Run{ID: "bad", Scene: "wall", Status: RunStatus("weird")})
	assert.Error(t, err, "status check constraint should reject unknown values")
}

func TestSelectionRepository(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Runs().Create(&Run{ID: "run-1", Scene: "wall", Status: RunOK}))

	sels := s.Selections()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inputs := []*Selection{
		{ID: "a", ConnectionID: "c1", RunID: "run-1", Row: 2, Col: 3, X: 105, Y: 75, CreatedAt: base},
		{ID: "b", ConnectionID: "c1", Row: 4, Col: 4, X: 135, Y: 135, CreatedAt: base.Add(time.Second)},
		{ID: "c", ConnectionID: "c2", Row: 0, Col: 0, X: 15, Y: 15, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, sel := range inputs {
		require.NoError(t, sels.Create(sel), sel.ID)
	}

	all, err := sels.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	c1, err := sels.List("c1", 10)
	require.NoError(t, err)
	require.Len(t, c1, 2)
	assert.Equal(t, "", c1[0].RunID)
	assert.Equal(t, "run-1", c1[1].RunID)

	n, err := sels.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	orphan := &Selection{ID: "d", ConnectionID: "c3", RunID: "missing"}
	assert.Error(t, sels.Create(orphan), "foreign key should reject an unknown run")
}

func TestSettingRepository(t *testing.T) {
	s := newTestStore(t)
	settings := s.Settings()

	_, err := settings.Get("scene")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, settings.Set("scene", "wall"))
	require.NoError(t, settings.Set("scene", "table"))

	v, err := settings.Get("scene")
	require.NoError(t, err)
	assert.Equal(t, "table", v)
}
