package submission

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parisxmas/fieldops/internal/models"
)

// Deps are the collaborators the orchestrator drives. Documents and Receipts
// may be nil.
type Deps struct {
	Records   RecordStore
	Blobs     BlobStore
	Documents DocumentGenerator
	Sequence  Sequencer
	Receipts  ReceiptIssuer
}

type Options struct {
	Parallelism     int
	UploadTimeout   time.Duration
	RecordTimeout   time.Duration
	DocumentTimeout time.Duration
	DetachTimeout   time.Duration
	// Detach lets a submission outlive a cancelled caller once the record exists.
	Detach             bool
	OnDetachedComplete func(*Outcome)
}

func DefaultOptions() Options {
	return Options{
		Parallelism:     6,
		UploadTimeout:   60 * time.Second,
		RecordTimeout:   15 * time.Second,
		DocumentTimeout: 30 * time.Second,
		DetachTimeout:   5 * time.Minute,
		Detach:          true,
	}
}

type Orchestrator struct {
	deps     Deps
	opts     Options
	pipeline *Pipeline
	now      func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		pipeline: NewPipeline(deps.Blobs, opts.UploadTimeout),
		now:      time.Now,
	}
}

// Submit creates the completion record, uploads and back-fills every asset,
// then requests the document. A returned error is always a *FatalError or
// ErrIncompletePayload; soft failures are reported on the Outcome.
func (o *Orchestrator) Submit(ctx context.Context, p *models.CompletionPayload, sink StateSink) (*Outcome, error) {
	if err := checkCompletion(p); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink{}
	}

	now := o.now().UTC().Format(time.RFC3339)
	rec := &models.CompletionRecord{
		SubjectID:          p.SubjectID,
		SubmissionKey:      p.SubmissionKey,
		ClientName:         p.Narrative.ClientName,
		WorkPerformed:      p.Narrative.WorkPerformed,
		MaterialsUsed:      p.Narrative.MaterialsUsed,
		Recommendations:    p.Narrative.Recommendations,
		Notes:              p.Narrative.Notes,
		SatisfactionScore:  p.SatisfactionScore,
		CustomerSignature:  dataURL(p.Signatures[models.SignerCustomer]),
		InstallerSignature: dataURL(p.Signatures[models.SignerInstaller]),
		FollowUpRequired:   p.FollowUp.Required,
		FollowUpNotes:      p.FollowUp.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	id, err := o.createRecord(ctx, func(rctx context.Context) (string, error) {
		return o.deps.Records.CreateCompletionRecord(rctx, rec)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Submission: completion %s created for subject %s (%d assets)", id, p.SubjectID, len(p.Assets))

	out := &Outcome{RecordID: id, RecordKind: models.RecordKindCompletion, SubmissionKey: p.SubmissionKey}
	o.issueReceipt(out, p.SubjectID)
	return o.finish(ctx, out, Target{Kind: models.RecordKindCompletion, RecordID: id}, p.Assets, sink), nil
}

// SubmitWorkOrder is Submit for the delivery-confirmation variant. The record
// carries a number drawn from the sequencer before creation.
func (o *Orchestrator) SubmitWorkOrder(ctx context.Context, p *models.WorkOrderPayload, sink StateSink) (*Outcome, error) {
	if p == nil || p.Summary == "" || p.Signature.Empty() {
		return nil, ErrIncompletePayload
	}
	if sink == nil {
		sink = nopSink{}
	}
	if o.deps.Sequence == nil {
		return nil, &FatalError{Reason: "work-order numbering is not configured"}
	}

	number, err := o.deps.Sequence.NextWorkOrderNumber(context.WithoutCancel(ctx))
	if err != nil {
		return nil, &FatalError{Reason: "could not allocate a work-order number", Err: err}
	}

	now := o.now().UTC().Format(time.RFC3339)
	wo := &models.WorkOrder{
		Number:     number,
		SubjectID:  p.SubjectID,
		Summary:    p.Summary,
		SignerName: p.SignerName,
		Signature:  dataURL(p.Signature),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := o.createRecord(ctx, func(rctx context.Context) (string, error) {
		return o.deps.Records.CreateWorkOrder(rctx, wo)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Submission: work order %s (%s) created for subject %s", id, number, p.SubjectID)

	out := &Outcome{RecordID: id, RecordKind: models.RecordKindWorkOrder, Number: number}
	o.issueReceipt(out, p.SubjectID)
	return o.finish(ctx, out, Target{Kind: models.RecordKindWorkOrder, RecordID: id}, p.Assets, sink), nil
}

// RetryAssets re-uploads assets against an existing record and back-fills the
// ones that succeed. The document is requested again when anything changed.
func (o *Orchestrator) RetryAssets(ctx context.Context, kind, recordID string, assets []models.StagedAsset, sink StateSink) *Outcome {
	if sink == nil {
		sink = nopSink{}
	}
	out := &Outcome{RecordID: recordID, RecordKind: kind}
	target := Target{Kind: kind, RecordID: recordID}
	refs := o.uploadAll(ctx, out, target, assets, sink)
	if len(refs) > 0 {
		o.generateDocument(ctx, out)
	}
	return out
}

// createRecord runs fn on a context the caller cannot cancel, bounded by
// RecordTimeout.
func (o *Orchestrator) createRecord(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	rctx := context.WithoutCancel(ctx)
	if o.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, o.opts.RecordTimeout)
		defer cancel()
	}
	id, err := fn(rctx)
	if err != nil {
		log.Printf("Error: record creation failed: %v", err)
		return "", &FatalError{Reason: "the record could not be saved", Err: err}
	}
	if id == "" {
		return "", &FatalError{Reason: "the record store returned no id"}
	}
	return id, nil
}

func (o *Orchestrator) issueReceipt(out *Outcome, subjectID string) {
	if o.deps.Receipts == nil {
		return
	}
	token, err := o.deps.Receipts.Issue(out.RecordKind, out.RecordID, subjectID)
	if err != nil {
		log.Printf("Warning: receipt for %s %s not issued: %v", out.RecordKind, out.RecordID, err)
		return
	}
	out.Receipt = token
}

// finish runs uploads, back-fill and document generation. When the caller
// goes away and detaching is enabled it returns a detached snapshot and hands
// the completed outcome to OnDetachedComplete.
func (o *Orchestrator) finish(ctx context.Context, out *Outcome, target Target, assets []models.StagedAsset, sink StateSink) *Outcome {
	if !o.opts.Detach {
		o.run(ctx, out, target, assets, sink)
		return out
	}

	bg := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if o.opts.DetachTimeout > 0 {
		bg, cancel = context.WithTimeout(bg, o.opts.DetachTimeout)
	}

	done := make(chan struct{})
	go func() {
		defer cancel()
		defer close(done)
		o.run(bg, out, target, assets, sink)
	}()

	select {
	case <-done:
		return out
	case <-ctx.Done():
	}

	log.Printf("Warning: caller left during submission of %s %s; finishing in background", out.RecordKind, out.RecordID)
	snap := &Outcome{
		RecordID:      out.RecordID,
		RecordKind:    out.RecordKind,
		Number:        out.Number,
		SubmissionKey: out.SubmissionKey,
		Receipt:       out.Receipt,
		Detached:      true,
	}
	go func() {
		<-done
		out.Detached = true
		if o.opts.OnDetachedComplete != nil {
			o.opts.OnDetachedComplete(out)
		}
	}()
	return snap
}

func (o *Orchestrator) run(ctx context.Context, out *Outcome, target Target, assets []models.StagedAsset, sink StateSink) {
	o.uploadAll(ctx, out, target, assets, sink)
	o.generateDocument(ctx, out)
}

type uploadResult struct {
	ref models.AssetReference
	err error
}

// uploadAll fans the uploads out, waits for all of them, then back-fills in
// asset order. Returns the references that were back-filled.
func (o *Orchestrator) uploadAll(ctx context.Context, out *Outcome, target Target, assets []models.StagedAsset, sink StateSink) []models.AssetReference {
	if len(assets) == 0 {
		return nil
	}

	results := make(map[string]uploadResult, len(assets))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for _, a := range assets {
		g.Go(func() error {
			ref, err := o.pipeline.Upload(ctx, target, a, sink)
			mu.Lock()
			results[a.ID] = uploadResult{ref: ref, err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var attached []models.AssetReference
	for _, a := range assets {
		res := results[a.ID]
		if res.err == nil {
			if err := o.deps.Records.AttachAssetReference(ctx, &res.ref); err != nil {
				res.err = fmt.Errorf("back-fill %s: %w", a.ID, err)
				sink.MarkFailed(a.ID, res.err)
			}
		}
		if res.err != nil {
			log.Printf("Warning: asset %s of %s %s failed: %v", a.ID, target.Kind, target.RecordID, res.err)
			out.FailedAssetIDs = append(out.FailedAssetIDs, a.ID)
			if out.AssetErrors == nil {
				out.AssetErrors = make(map[string]string)
			}
			out.AssetErrors[a.ID] = res.err.Error()
			continue
		}
		if out.References == nil {
			out.References = make(map[string]string)
		}
		out.References[a.ID] = res.ref.URL
		attached = append(attached, res.ref)
	}
	return attached
}

// generateDocument runs as its own task; its error is recorded, never raised.
func (o *Orchestrator) generateDocument(ctx context.Context, out *Outcome) {
	if o.deps.Documents == nil {
		return
	}
	if o.opts.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.DocumentTimeout)
		defer cancel()
	}

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("document generator panicked: %v", r)
			}
		}()
		errc <- o.deps.Documents.GenerateDocument(ctx, out.RecordKind, out.RecordID)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		log.Printf("Warning: document for %s %s not generated: %v", out.RecordKind, out.RecordID, err)
		out.DocumentGenerationFailed = true
		out.DocumentError = err.Error()
	}
}

func checkCompletion(p *models.CompletionPayload) error {
	if p == nil {
		return ErrIncompletePayload
	}
	for _, role := range models.SignerRoles {
		if p.Signatures[role].Empty() {
			return fmt.Errorf("%w: missing %s signature", ErrIncompletePayload, role)
		}
	}
	if p.Narrative.ClientName == "" || p.Narrative.WorkPerformed == "" {
		return fmt.Errorf("%w: narrative", ErrIncompletePayload)
	}
	if p.SatisfactionScore < 1 || p.SatisfactionScore > 5 {
		return fmt.Errorf("%w: satisfaction score", ErrIncompletePayload)
	}
	return nil
}

func dataURL(s models.SignatureArtifact) string {
	if s.Empty() {
		return ""
	}
	ct := s.ContentType
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(s.Content)
}
