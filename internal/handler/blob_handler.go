package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// BlobReader serves stored photo bytes.
type BlobReader interface {
	GetBlob(ctx context.Context, key string) ([]byte, string, error)
}

type BlobHandler struct {
	blobs BlobReader
}

func NewBlobHandler(blobs BlobReader) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

func (h *BlobHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	data, ct, err := h.blobs.GetBlob(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "blob not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Write(data)
}
