package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/orchestrator"
)

// writeHook creates dir/name with a manifest and an executable script.
func writeHook(t *testing.T, dir, name, script string, events ...string) *Hook {
	t.Helper()
	hookDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(hookDir, 0755))

	manifest := Manifest{Name: name, Version: "1.0.0", Executable: "run.sh", Events: events}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, ManifestFile), data, 0644))

	exe := filepath.Join(hookDir, "run.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0755))
	return &Hook{Manifest: manifest, Path: hookDir, Executable: exe}
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
}

func TestManager_Discover(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "b-hook", "", "confirmed")
	writeHook(t, dir, "a-hook", "")

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, ManifestFile), []byte("not valid json"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no-manifest"), 0755))

	m := NewManager(dir)
	require.NoError(t, m.Discover())

	hooks := m.List()
	require.Len(t, hooks, 2)
	assert.Equal(t, "a-hook", hooks[0].Manifest.Name)
	assert.Equal(t, "b-hook", hooks[1].Manifest.Name)

	h, err := m.Get("b-hook")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b-hook", "run.sh"), h.Executable)

	_, err = m.Get("bad")
	assert.ErrorIs(t, err, ErrHookNotFound)
}

func TestManager_Discover_NonExistentDir(t *testing.T) {
	m := NewManager("/path/that/does/not/exist")
	require.NoError(t, m.Discover())
	assert.Empty(t, m.List())
	assert.Equal(t, "/path/that/does/not/exist", m.Dir())
}

func TestHook_Wants(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		event  string
		want   bool
	}{
		{"all events", nil, "mode", true},
		{"subscribed", []string{"confirmed"}, "confirmed", true},
		{"not subscribed", []string{"confirmed"}, "mode", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Hook{Manifest: Manifest{Events: tt.events}}
			assert.Equal(t, tt.want, h.Wants(tt.event))
		})
	}
}

func TestExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	row := 3

	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		wantErr string
	}{
		{"success", `cat > /dev/null; echo '{"success":true}'`, 5 * time.Second, ""},
		{"failure response", `echo '{"success":false,"error":"nope"}'`, 5 * time.Second, "nope"},
		{"invalid json", `echo 'not json'`, 5 * time.Second, "parse"},
		{"non-zero exit", `echo "broken" >&2; exit 1`, 5 * time.Second, "broken"},
		{"timeout", `sleep 10; echo '{"success":true}'`, 100 * time.Millisecond, "timed out"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := writeHook(t, dir, "hook-"+string(rune('a'+i)), tt.script)
			_, err := NewExecutor(tt.timeout).Execute(context.Background(), h, &Request{Event: "confirmed", Row: &row})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDispatcher_DeliversConfirmations(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "events.jsonl")
	writeHook(t, dir, "recorder", `cat >> "`+out+`"; echo >> "`+out+`"; echo '{"success":true}'`, "confirmed")

	m := NewManager(dir)
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, NewExecutor(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(orchestrator.Event{Kind: orchestrator.EventMode, Connection: "c1", Mode: orchestrator.Combat})
	d.Enqueue(orchestrator.Event{
		Kind:       orchestrator.EventConfirmed,
		Connection: "c1",
		Mode:       orchestrator.Combat,
		Cell:       &grid.Cell{Row: 3, Col: 4},
		At:         time.Now(),
	})

	var lines []string
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(out)
		lines = strings.Fields(strings.TrimSpace(string(data)))
		return len(lines) > 0
	}, 5*time.Second, 20*time.Millisecond)
	require.Len(t, lines, 1)

	var req Request
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &req))
	assert.Equal(t, "confirmed", req.Event)
	assert.Equal(t, "c1", req.Connection)
	assert.Equal(t, "combat", req.Mode)
	require.NotNil(t, req.Row)
	require.NotNil(t, req.Col)
	assert.Equal(t, 3, *req.Row)
	assert.Equal(t, 4, *req.Col)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(NewManager(t.TempDir()), NewExecutor(time.Second))
	for i := 0; i < QueueSize+5; i++ {
		d.Enqueue(orchestrator.Event{Kind: orchestrator.EventMode})
	}
	assert.Len(t, d.queue, QueueSize)
}
