package submission

import (
	"errors"
	"fmt"
	"strings"
)

var ErrIncompletePayload = errors.New("submission: payload is incomplete")

// FatalError means the record was not created. Nothing downstream ran.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "submission failed: " + e.Reason
	}
	return fmt.Sprintf("submission failed: %s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err means no record exists.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Outcome describes a submission whose record exists. Failures listed here
// are soft: the completion happened.
type Outcome struct {
	RecordID                 string            `json:"recordId"`
	RecordKind               string            `json:"recordKind"`
	Number                   string            `json:"number,omitempty"`
	SubmissionKey            string            `json:"submissionKey,omitempty"`
	References               map[string]string `json:"references,omitempty"`
	FailedAssetIDs           []string          `json:"failedAssetIds"`
	AssetErrors              map[string]string `json:"assetErrors,omitempty"`
	DocumentGenerationFailed bool              `json:"documentGenerationFailed"`
	DocumentError            string            `json:"documentError,omitempty"`
	Detached                 bool              `json:"detached,omitempty"`
	Receipt                  string            `json:"receipt,omitempty"`
}

// Partial reports whether any soft failure occurred.
func (o *Outcome) Partial() bool {
	return len(o.FailedAssetIDs) > 0 || o.DocumentGenerationFailed
}

// Warning summarises the soft failures in one message, or returns "".
func (o *Outcome) Warning() string {
	var parts []string
	if n := len(o.FailedAssetIDs); n == 1 {
		parts = append(parts, "1 photo could not be uploaded")
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("%d photos could not be uploaded", n))
	}
	if o.DocumentGenerationFailed {
		parts = append(parts, "the work-order document could not be generated")
	}
	if len(parts) == 0 {
		return ""
	}
	return "Completion saved, but " + strings.Join(parts, " and ") + "."
}
