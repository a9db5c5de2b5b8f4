package handler

import (
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/service"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
)

// maxUploadMemory is the multipart memory budget before parts spill to disk.
const maxUploadMemory = 32 << 20

type SessionHandler struct {
	svc *service.SessionService
}

func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, err := h.svc.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subjectId"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subjectId is required")
		return
	}
	sess := h.svc.Create(req.SubjectID)
	writeJSON(w, http.StatusCreated, sess.View())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := h.svc.Close(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *SessionHandler) SetNarrative(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var n models.Narrative
	if err := readJSON(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.reply(w, sess, sess.Wizard.SetNarrative(n))
}

func (h *SessionHandler) SetSatisfaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Score int `json:"score"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.reply(w, sess, sess.Wizard.SetSatisfaction(req.Score))
}

func (h *SessionHandler) SetFollowUp(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var f models.FollowUp
	if err := readJSON(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.reply(w, sess, sess.Wizard.SetFollowUp(f))
}

// AddAssets stages every file part of a multipart upload. Files after the
// first rejected one are not processed.
func (h *SessionHandler) AddAssets(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form expected")
		return
	}
	category := models.Category(r.FormValue("category"))
	description := r.FormValue("description")

	var added []*models.StagedAsset
	for _, field := range slices.Sorted(maps.Keys(r.MultipartForm.File)) {
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
			in := staging.Input{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
			a, err := sess.Wizard.AddAsset(r.Context(), in, category, description)
			if err != nil {
				writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "added": added})
				return
			}
			added = append(added, a)
		}
	}
	if len(added) == 0 {
		writeError(w, http.StatusBadRequest, "no files in upload")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"added": added, "session": sess.View()})
}

func (h *SessionHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Category    *models.Category `json:"category"`
		Description *string          `json:"description"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "assetId")
	if req.Category != nil {
		if err := sess.Wizard.UpdateAssetCategory(id, *req.Category); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.Description != nil {
		if err := sess.Wizard.UpdateAssetDescription(id, *req.Description); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.reply(w, sess, sess.Wizard.RemoveAsset(chi.URLParam(r, "assetId")))
}

func (h *SessionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	data, ct, err := sess.Wizard.AssetPreview(chi.URLParam(r, "assetId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(data)
}

func (h *SessionHandler) PutSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strokes []signature.Stroke `json:"strokes"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := models.SignerRole(chi.URLParam(r, "role"))
	sess, err := h.svc.Sign(chi.URLParam(r, "sessionId"), role, req.Strokes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) DeleteSignature(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.reply(w, sess, sess.Wizard.ClearSignature(models.SignerRole(chi.URLParam(r, "role"))))
}

func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	_, err := sess.Wizard.Advance()
	h.reply(w, sess, err)
}

func (h *SessionHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	_, err := sess.Wizard.Retreat()
	h.reply(w, sess, err)
}

func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, out, err := h.svc.Submit(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if out.Detached {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"outcome": out, "warning": out.Warning(), "session": sess.View()})
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.reply(w, sess, sess.Wizard.Cancel())
}

func (h *SessionHandler) RetryAssets(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := sess.Wizard.RetryFailedAssets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": out, "warning": out.Warning(), "session": sess.View()})
}

func (h *SessionHandler) reply(w http.ResponseWriter, sess *service.Session, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}
