package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/parisxmas/fieldops/internal/imaging"
	"github.com/parisxmas/fieldops/internal/service"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
	"github.com/parisxmas/fieldops/internal/wizard"
)

// maxJSONBody bounds request bodies that are not uploads.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeErr maps a domain error to its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	var ve *wizard.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": ve.Message,
			"step":  ve.Step.String(),
			"field": ve.Field,
		})
		return
	}
	var fe *submission.FatalError
	if errors.As(err, &fe) {
		writeError(w, http.StatusBadGateway, fe.Reason)
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, staging.ErrNotFound),
		errors.Is(err, staging.ErrPreviewGone):
		return http.StatusNotFound
	case errors.Is(err, staging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, staging.ErrInvalidType),
		errors.Is(err, staging.ErrInvalidCategory),
		errors.Is(err, signature.ErrInvalidRole),
		errors.Is(err, service.ErrSummaryRequired):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrAlreadyTransitioning),
		errors.Is(err, wizard.ErrSubmissionInProgress),
		errors.Is(err, wizard.ErrClosed),
		errors.Is(err, wizard.ErrAtFirstStep),
		errors.Is(err, wizard.ErrAtLastStep),
		errors.Is(err, wizard.ErrStillUploading),
		errors.Is(err, wizard.ErrNotAtReview),
		errors.Is(err, wizard.ErrNotSubmitted),
		errors.Is(err, staging.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, signature.ErrEmptySignature),
		errors.Is(err, imaging.ErrResolutionTooLow),
		errors.Is(err, imaging.ErrDimensionsTooLarge),
		errors.Is(err, imaging.ErrCannotShrink),
		errors.Is(err, submission.ErrIncompletePayload):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
