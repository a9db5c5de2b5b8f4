package handler

import (
	"context"
	"net/http"
)

// Collection is a maintained OxiDB collection.
type Collection interface {
	ListIndexes(ctx context.Context) ([]map[string]any, error)
	Compact(ctx context.Context) (map[string]any, error)
}

type AdminHandler struct {
	collections map[string]Collection
}

func NewAdminHandler(collections map[string]Collection) *AdminHandler {
	return &AdminHandler{collections: collections}
}

func (h *AdminHandler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(h.collections))
	for name, c := range h.collections {
		indexes, err := c.ListIndexes(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, name+": "+err.Error())
			return
		}
		out[name] = indexes
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexes": out})
}

// Compact compacts the collection named by ?collection=, or all of them.
func (h *AdminHandler) Compact(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("collection")
	if only != "" {
		if _, ok := h.collections[only]; !ok {
			writeError(w, http.StatusNotFound, "unknown collection "+only)
			return
		}
	}
	out := make(map[string]any)
	for name, c := range h.collections {
		if only != "" && name != only {
			continue
		}
		stats, err := c.Compact(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, name+": "+err.Error())
			return
		}
		out[name] = stats
	}
	writeJSON(w, http.StatusOK, out)
}
