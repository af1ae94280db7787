// Package hook runs external executables when the orchestrator reports a
// confirmed cell or a mode change.
package hook

import "time"

// ManifestFile is the manifest name expected in each hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook and the events it wants. Events lists event
// kinds ("confirmed", "mode"); an empty list means all of them.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Events      []string `json:"events"`
}

// Request is written to the hook's stdin as one JSON document.
type Request struct {
	Event      string    `json:"event"`
	Connection string    `json:"connection"`
	Mode       string    `json:"mode"`
	Row        *int      `json:"row,omitempty"`
	Col        *int      `json:"col,omitempty"`
	At         time.Time `json:"at"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Wants reports whether the hook subscribed to event.
func (h *Hook) Wants(event string) bool {
	if len(h.Manifest.Events) == 0 {
		return true
	}
	for _, e := range h.Manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}
