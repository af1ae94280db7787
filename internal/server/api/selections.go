package api

import (
	"net/http"

	"github.com/ayusman/gridpoint/internal/store"
)

// SelectionHandler handles HTTP requests for confirmed selections.
type SelectionHandler struct {
	store *store.Store
}

// NewSelectionHandler creates a new SelectionHandler with the given store.
func NewSelectionHandler(s *store.Store) *SelectionHandler {
	return &SelectionHandler{store: s}
}

type listSelectionsResponse struct {
	Selections []*store.Selection `json:"selections"`
	Count      int                `json:"count"`
	Total      int                `json:"total"`
}

// ServeHTTP handles GET /api/selections?connection=&limit=.
func (h *SelectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sels, err := h.store.Selections().List(r.URL.Query().Get("connection"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list selections")
		return
	}
	total, err := h.store.Selections().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count selections")
		return
	}
	if sels == nil {
		sels = []*store.Selection{}
	}

	writeJSON(w, http.StatusOK, listSelectionsResponse{
		Selections: sels,
		Count:      len(sels),
		Total:      total,
	})
}
