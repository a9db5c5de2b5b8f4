// Package wizard drives one completion from first field to confirmed submission.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/notify"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
	"github.com/parisxmas/fieldops/internal/textnorm"
)

var (
	ErrAlreadyTransitioning = errors.New("wizard: a transition is already in progress")
	ErrSubmissionInProgress = errors.New("wizard: submission already in progress")
	ErrClosed               = errors.New("wizard: completion is closed")
	ErrAtFirstStep          = errors.New("wizard: already at the first step")
	ErrAtLastStep           = errors.New("wizard: review is the last step; submit instead")
	ErrNotAtReview          = errors.New("wizard: submit is only possible from review")
	ErrStillUploading       = errors.New("wizard: photos are still uploading")
	ErrNotSubmitted         = errors.New("wizard: nothing has been submitted")
)

// Submitter is the part of the orchestrator the wizard drives.
type Submitter interface {
	Submit(ctx context.Context, p *models.CompletionPayload, sink submission.StateSink) (*submission.Outcome, error)
	RetryAssets(ctx context.Context, kind, recordID string, assets []models.StagedAsset, sink submission.StateSink) *submission.Outcome
}

// Wizard is the state of one completion session. All methods are safe for
// concurrent use; transitions that overlap are refused rather than queued.
type Wizard struct {
	mu            sync.Mutex
	transitioning atomic.Bool
	submitting    atomic.Bool

	subjectID     string
	submissionKey string
	step          Step
	narrative     models.Narrative
	score         int
	followUp      models.FollowUp
	signatures    map[models.SignerRole]models.SignatureArtifact
	outcome       *submission.Outcome
	uploading     bool                // a detached run has not reported yet
	early         *submission.Outcome // final outcome that beat Submit's return
	version       uint64

	assets    *staging.Store
	submitter Submitter
	notifier  notify.Notifier
}

func New(subjectID string, assets *staging.Store, submitter Submitter, notifier notify.Notifier) *Wizard {
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Wizard{
		subjectID:     subjectID,
		submissionKey: uuid.NewString(),
		step:          StepInfo,
		signatures:    make(map[models.SignerRole]models.SignatureArtifact),
		assets:        assets,
		submitter:     submitter,
		notifier:      notifier,
	}
}

func (w *Wizard) SubjectID() string     { return w.subjectID }
func (w *Wizard) SubmissionKey() string { return w.submissionKey }

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Advance moves to the next step if the current one validates.
func (w *Wizard) Advance() (Step, error) {
	if !w.transitioning.CompareAndSwap(false, true) {
		return w.Step(), ErrAlreadyTransitioning
	}
	defer w.transitioning.Store(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.step.Terminal():
		return w.step, ErrClosed
	case w.step == StepReview:
		return w.step, ErrAtLastStep
	}
	if err := Validate(w.step, w.input()); err != nil {
		return w.step, err
	}
	w.step++
	w.version++
	return w.step, nil
}

// Retreat moves back one step. It never validates.
func (w *Wizard) Retreat() (Step, error) {
	if w.submitting.Load() {
		return w.Step(), ErrSubmissionInProgress
	}
	if !w.transitioning.CompareAndSwap(false, true) {
		return w.Step(), ErrAlreadyTransitioning
	}
	defer w.transitioning.Store(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.step.Terminal():
		return w.step, ErrClosed
	case w.step == StepInfo:
		return w.step, ErrAtFirstStep
	}
	w.step--
	w.version++
	return w.step, nil
}

func (w *Wizard) SetNarrative(n models.Narrative) error {
	return w.mutate(func() {
		w.narrative = models.Narrative{
			ClientName:      textnorm.Line(n.ClientName),
			WorkPerformed:   textnorm.Clean(n.WorkPerformed),
			MaterialsUsed:   textnorm.Clean(n.MaterialsUsed),
			Recommendations: textnorm.Clean(n.Recommendations),
			Notes:           textnorm.Clean(n.Notes),
		}
	})
}

// SetSatisfaction stores the score. Range is checked when leaving the step.
func (w *Wizard) SetSatisfaction(score int) error {
	return w.mutate(func() { w.score = score })
}

func (w *Wizard) SetFollowUp(f models.FollowUp) error {
	return w.mutate(func() {
		w.followUp = models.FollowUp{Required: f.Required, Notes: textnorm.Clean(f.Notes)}
	})
}

// CaptureSignature stores the artifact for its role, replacing any earlier one.
func (w *Wizard) CaptureSignature(sig models.SignatureArtifact) error {
	if !sig.Role.Valid() {
		return fmt.Errorf("wizard: unknown signer role %q", sig.Role)
	}
	return w.mutate(func() { w.signatures[sig.Role] = sig })
}

func (w *Wizard) ClearSignature(role models.SignerRole) error {
	return w.mutate(func() { delete(w.signatures, role) })
}

func (w *Wizard) AddAsset(ctx context.Context, in staging.Input, category models.Category, description string) (*models.StagedAsset, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	return w.assets.Add(ctx, in, category, description)
}

func (w *Wizard) RemoveAsset(id string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.assets.Remove(id)
	return nil
}

func (w *Wizard) UpdateAssetCategory(id string, c models.Category) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return w.assets.UpdateCategory(id, c)
}

func (w *Wizard) UpdateAssetDescription(id, text string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return w.assets.UpdateDescription(id, text)
}

// AssetPreview returns preview bytes and content type of a staged asset.
func (w *Wizard) AssetPreview(id string) ([]byte, string, error) {
	return w.assets.Preview(id)
}

// Submit hands the completion to the orchestrator. A fatal failure keeps the
// wizard at review with everything intact; any soft failure is reported to the
// notifier as one warning.
func (w *Wizard) Submit(ctx context.Context) (*submission.Outcome, error) {
	if !w.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInProgress
	}
	defer w.submitting.Store(false)
	if !w.transitioning.CompareAndSwap(false, true) {
		return nil, ErrAlreadyTransitioning
	}
	defer w.transitioning.Store(false)

	w.mu.Lock()
	if w.step != StepReview {
		step := w.step
		w.mu.Unlock()
		if step.Terminal() {
			return nil, ErrClosed
		}
		return nil, ErrNotAtReview
	}
	in := w.input()
	for s := StepInfo; s <= StepReview; s++ {
		if err := Validate(s, in); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	p := &models.CompletionPayload{
		SubjectID:         w.subjectID,
		SubmissionKey:     w.submissionKey,
		Narrative:         w.narrative,
		SatisfactionScore: w.score,
		FollowUp:          w.followUp,
		Assets:            w.assets.Snapshot(),
		Signatures:        in.Signatures,
	}
	w.mu.Unlock()

	out, err := w.submitter.Submit(ctx, p, w.assets)
	if err != nil {
		var fe *submission.FatalError
		if errors.As(err, &fe) {
			w.notifier.Notify(notify.Error, "Completion was not saved: "+fe.Reason+". Nothing was lost; try again.")
		}
		return nil, err
	}

	w.mu.Lock()
	w.step = StepSubmitted
	if out.Detached && w.early != nil && w.early.RecordID == out.RecordID {
		out = w.early
	} else {
		w.uploading = out.Detached
	}
	w.early = nil
	w.outcome = out
	w.version++
	w.mu.Unlock()

	w.report(out)
	return out, nil
}

// CompleteDetached records the final outcome of a submission that finished
// after its caller left. An outcome that arrives while Submit is still
// returning is held and applied by Submit.
func (w *Wizard) CompleteDetached(out *submission.Outcome) {
	w.mu.Lock()
	switch {
	case w.outcome == nil && w.submitting.Load():
		w.early = out
		w.mu.Unlock()
		return
	case w.outcome == nil || w.outcome.RecordID != out.RecordID || !w.uploading:
		w.mu.Unlock()
		return
	}
	w.outcome = out
	w.uploading = false
	w.version++
	w.mu.Unlock()
	w.report(out)
}

// UploadsPending reports whether a detached submission is still running.
func (w *Wizard) UploadsPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.uploading
}

func (w *Wizard) report(out *submission.Outcome) {
	switch {
	case out.Partial():
		w.notifier.Notify(notify.Warning, out.Warning())
	case out.Detached && len(out.References) == 0 && len(w.assets.List()) > 0:
		w.notifier.Notify(notify.Info, "Completion saved. Photos are still uploading.")
	default:
		w.notifier.Notify(notify.Info, "Completion saved.")
	}
}

// RetryFailedAssets uploads again the assets whose last attempt failed and
// attaches them to the record that was already created.
func (w *Wizard) RetryFailedAssets(ctx context.Context) (*submission.Outcome, error) {
	if !w.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInProgress
	}
	defer w.submitting.Store(false)

	w.mu.Lock()
	if w.step != StepSubmitted || w.outcome == nil {
		w.mu.Unlock()
		return nil, ErrNotSubmitted
	}
	if w.uploading {
		w.mu.Unlock()
		return nil, ErrStillUploading
	}
	recordID := w.outcome.RecordID
	w.mu.Unlock()

	failed := w.assets.Failed()
	if len(failed) == 0 {
		return w.Outcome(), nil
	}
	retry := w.submitter.RetryAssets(ctx, models.RecordKindCompletion, recordID, failed, w.assets)

	w.mu.Lock()
	merged := *w.outcome
	merged.FailedAssetIDs = slices.DeleteFunc(slices.Clone(merged.FailedAssetIDs), func(id string) bool {
		_, ok := retry.References[id]
		return ok
	})
	if merged.References == nil {
		merged.References = make(map[string]string)
	}
	for id, url := range retry.References {
		merged.References[id] = url
		delete(merged.AssetErrors, id)
	}
	for id, msg := range retry.AssetErrors {
		if merged.AssetErrors == nil {
			merged.AssetErrors = make(map[string]string)
		}
		merged.AssetErrors[id] = msg
	}
	if len(retry.References) > 0 {
		merged.DocumentGenerationFailed = retry.DocumentGenerationFailed
		merged.DocumentError = retry.DocumentError
	}
	w.outcome = &merged
	w.version++
	w.mu.Unlock()

	w.report(&merged)
	return &merged, nil
}

// Cancel discards the session. Staged previews are released.
func (w *Wizard) Cancel() error {
	if w.submitting.Load() {
		return ErrSubmissionInProgress
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step.Terminal() {
		return ErrClosed
	}
	w.step = StepCancelled
	w.signatures = make(map[models.SignerRole]models.SignatureArtifact)
	w.assets.Reset()
	w.version++
	return nil
}

// Outcome returns the last submission outcome, or nil.
func (w *Wizard) Outcome() *submission.Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome == nil {
		return nil
	}
	out := *w.outcome
	return &out
}

// View is a read-only picture of the wizard.
type View struct {
	Step              Step                 `json:"step"`
	SubjectID         string               `json:"subjectId"`
	SubmissionKey     string               `json:"submissionKey"`
	Narrative         models.Narrative     `json:"narrative"`
	SatisfactionScore int                  `json:"satisfactionScore"`
	FollowUp          models.FollowUp      `json:"followUp"`
	Assets            []models.StagedAsset `json:"assets"`
	Signatures        []models.SignerRole  `json:"signatures"`
	Submitting        bool                 `json:"submitting"`
	UploadsPending    bool                 `json:"uploadsPending"`
	Outcome           *submission.Outcome  `json:"outcome,omitempty"`
	Version           uint64               `json:"version"`
}

func (w *Wizard) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := View{
		Step:              w.step,
		SubjectID:         w.subjectID,
		SubmissionKey:     w.submissionKey,
		Narrative:         w.narrative,
		SatisfactionScore: w.score,
		FollowUp:          w.followUp,
		Assets:            w.assets.Snapshot(),
		Submitting:        w.submitting.Load(),
		UploadsPending:    w.uploading,
		Version:           w.version + w.assets.Version(),
	}
	for _, role := range models.SignerRoles {
		if !w.signatures[role].Empty() {
			v.Signatures = append(v.Signatures, role)
		}
	}
	if w.outcome != nil {
		out := *w.outcome
		v.Outcome = &out
	}
	return v
}

func (w *Wizard) input() Input {
	sigs := make(map[models.SignerRole]models.SignatureArtifact, len(w.signatures))
	for k, v := range w.signatures {
		sigs[k] = v
	}
	return Input{
		Narrative:         w.narrative,
		SatisfactionScore: w.score,
		FollowUp:          w.followUp,
		Signatures:        sigs,
	}
}

func (w *Wizard) checkOpen() error {
	if w.submitting.Load() {
		return ErrSubmissionInProgress
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step.Terminal() {
		return ErrClosed
	}
	return nil
}

func (w *Wizard) mutate(fn func()) error {
	if w.submitting.Load() {
		return ErrSubmissionInProgress
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step.Terminal() {
		return ErrClosed
	}
	fn()
	w.version++
	return nil
}
