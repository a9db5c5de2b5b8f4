package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/repository"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
	"github.com/parisxmas/fieldops/internal/textnorm"
)

var ErrSummaryRequired = errors.New("summary is required")

// WorkOrderSubmitter is the part of the orchestrator work orders use.
type WorkOrderSubmitter interface {
	SubmitWorkOrder(ctx context.Context, p *models.WorkOrderPayload, sink submission.StateSink) (*submission.Outcome, error)
}

type WorkOrderService struct {
	submitter  WorkOrderSubmitter
	newStore   func() *staging.Store
	workOrders *repository.WorkOrderRepo
	photos     *repository.PhotoRepo
	sigOpts    signature.Options
}

func NewWorkOrderService(submitter WorkOrderSubmitter, newStore func() *staging.Store, workOrders *repository.WorkOrderRepo, photos *repository.PhotoRepo, sigOpts signature.Options) *WorkOrderService {
	return &WorkOrderService{submitter: submitter, newStore: newStore, workOrders: workOrders, photos: photos, sigOpts: sigOpts}
}

// WorkOrderPhoto is one photo posted with a delivery confirmation.
type WorkOrderPhoto struct {
	Input       staging.Input
	Category    models.Category
	Description string
}

type WorkOrderRequest struct {
	SubjectID  string             `json:"subjectId"`
	Summary    string             `json:"summary"`
	SignerName string             `json:"signerName"`
	Strokes    []signature.Stroke `json:"strokes"`
	Photos     []WorkOrderPhoto   `json:"-"`
}

// Create stages the photos, renders the customer signature and submits the
// work order in one call.
func (s *WorkOrderService) Create(ctx context.Context, req WorkOrderRequest) (*submission.Outcome, error) {
	summary := textnorm.Clean(req.Summary)
	if summary == "" {
		return nil, ErrSummaryRequired
	}
	sig, err := signature.Capture(models.SignerCustomer, req.Strokes, s.sigOpts)
	if err != nil {
		return nil, err
	}

	store := s.newStore()
	defer store.Reset()
	for _, p := range req.Photos {
		category := p.Category
		if category == "" {
			category = models.CategoryAfter
		}
		if _, err := store.Add(ctx, p.Input, category, p.Description); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Input.Name, err)
		}
	}

	return s.submitter.SubmitWorkOrder(ctx, &models.WorkOrderPayload{
		SubjectID:  req.SubjectID,
		Summary:    summary,
		SignerName: textnorm.Line(req.SignerName),
		Signature:  sig,
		Assets:     store.Snapshot(),
	}, store)
}

// DetachedComplete stores the outcome of a work order whose caller left
// before the uploads finished.
func (s *WorkOrderService) DetachedComplete(out *submission.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	docErr := out.DocumentError
	if out.DocumentGenerationFailed && docErr == "" {
		docErr = "document generation failed"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.workOrders.RecordOutcome(ctx, out.RecordID, out.FailedAssetIDs, docErr, now); err != nil {
		log.Printf("Error: work order %s: storing background outcome: %v", out.RecordID, err)
		return
	}
	if out.Partial() {
		log.Printf("Warning: work order %s (%s): %s", out.RecordID, out.Number, out.Warning())
	}
}

type WorkOrderDetail struct {
	WorkOrder *models.WorkOrder       `json:"workOrder"`
	Photos    []models.AssetReference `json:"photos"`
}

func (s *WorkOrderService) Get(ctx context.Context, id string) (*WorkOrderDetail, error) {
	wo, err := s.workOrders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, ErrRecordNotFound
	}
	photos, err := s.photos.FindByRecord(ctx, models.RecordKindWorkOrder, id)
	if err != nil {
		return nil, err
	}
	return &WorkOrderDetail{WorkOrder: wo, Photos: photos}, nil
}
