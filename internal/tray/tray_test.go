package tray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/orchestrator"
)

func TestTray_HandleEvent(t *testing.T) {
	tr := New()

	assert.Equal(t, "idle", tr.Mode())
	assert.Nil(t, tr.LastConfirmed())

	tr.HandleEvent(orchestrator.Event{Kind: orchestrator.EventMode, Mode: orchestrator.Combat})
	assert.Equal(t, "combat", tr.Mode())

	tr.HandleEvent(orchestrator.Event{Kind: orchestrator.EventConfirmed, Cell: &grid.Cell{Row: 3, Col: 4}})
	last := tr.LastConfirmed()
	require.NotNil(t, last)
	assert.Equal(t, grid.Cell{Row: 3, Col: 4}, *last)

	// a confirmation without a cell keeps the previous one
	tr.HandleEvent(orchestrator.Event{Kind: orchestrator.EventConfirmed})
	assert.NotNil(t, tr.LastConfirmed())
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Mode: planning", modeLabel("planning"))
	assert.Equal(t, "Last: none", lastLabel(nil))
	assert.Equal(t, "Last: row 1, col 7", lastLabel(&grid.Cell{Row: 1, Col: 7}))
}
