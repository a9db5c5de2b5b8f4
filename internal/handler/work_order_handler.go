package handler

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/service"
	"github.com/parisxmas/fieldops/internal/staging"
)

type WorkOrderHandler struct {
	svc *service.WorkOrderService
}

func NewWorkOrderHandler(svc *service.WorkOrderService) *WorkOrderHandler {
	return &WorkOrderHandler{svc: svc}
}

// Create accepts a multipart form: a "data" field holding the JSON request and
// any number of photo parts. A photo part's field name is used as its category.
func (h *WorkOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form expected")
		return
	}
	var req service.WorkOrderRequest
	if err := json.Unmarshal([]byte(r.FormValue("data")), &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid data JSON")
		return
	}

	for _, field := range slices.Sorted(maps.Keys(r.MultipartForm.File)) {
		category := models.Category(field)
		if !category.Valid() {
			category = models.CategoryAfter
		}
		for _, fh := range r.MultipartForm.File[field] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
				return
			}
			req.Photos = append(req.Photos, service.WorkOrderPhoto{
				Input:    staging.Input{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data},
				Category: category,
			})
		}
	}

	out, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if out.Detached {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"outcome": out, "warning": out.Warning()})
}

func (h *WorkOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Get(r.Context(), chi.URLParam(r, "workOrderId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
