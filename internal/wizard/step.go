package wizard

import (
	"fmt"
	"strings"

	"github.com/parisxmas/fieldops/internal/models"
)

// Step is a position in the completion flow. Steps advance strictly in order.
type Step int

const (
	StepInfo Step = iota
	StepBeforePhotos
	StepDuringPhotos
	StepAfterPhotos
	StepSatisfaction
	StepSignatures
	StepReview
	StepSubmitted
	StepCancelled
)

var stepNames = [...]string{
	StepInfo:         "info",
	StepBeforePhotos: "before_photos",
	StepDuringPhotos: "during_photos",
	StepAfterPhotos:  "after_photos",
	StepSatisfaction: "satisfaction",
	StepSignatures:   "signatures",
	StepReview:       "review",
	StepSubmitted:    "submitted",
	StepCancelled:    "cancelled",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s Step) Terminal() bool {
	return s == StepSubmitted || s == StepCancelled
}

// Input is everything validation looks at.
type Input struct {
	Narrative         models.Narrative
	SatisfactionScore int
	FollowUp          models.FollowUp
	Signatures        map[models.SignerRole]models.SignatureArtifact
}

// ValidationError names the step and field that blocked a transition.
type ValidationError struct {
	Step    Step
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

// Validate checks whether step may be left going forward. It has no side effects.
func Validate(step Step, in Input) error {
	switch step {
	case StepInfo:
		if strings.TrimSpace(in.Narrative.ClientName) == "" {
			return &ValidationError{Step: step, Field: "clientName", Message: "client name is required"}
		}
		if strings.TrimSpace(in.Narrative.WorkPerformed) == "" {
			return &ValidationError{Step: step, Field: "workPerformed", Message: "describe the work performed"}
		}
		return nil
	case StepBeforePhotos, StepDuringPhotos, StepAfterPhotos:
		return nil
	case StepSatisfaction:
		if in.SatisfactionScore < 1 || in.SatisfactionScore > 5 {
			return &ValidationError{Step: step, Field: "satisfactionScore", Message: "choose a satisfaction score from 1 to 5"}
		}
		if in.FollowUp.Required && strings.TrimSpace(in.FollowUp.Notes) == "" {
			return &ValidationError{Step: step, Field: "followUpNotes", Message: "describe the follow-up that is needed"}
		}
		return nil
	case StepSignatures:
		for _, role := range models.SignerRoles {
			if in.Signatures[role].Empty() {
				return &ValidationError{Step: step, Field: string(role), Message: fmt.Sprintf("the %s signature is required", role)}
			}
		}
		return nil
	case StepReview:
		return nil
	case StepSubmitted, StepCancelled:
		return &ValidationError{Step: step, Message: "the completion is closed"}
	}
	return &ValidationError{Step: step, Message: "unknown step"}
}
