package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/parisxmas/fieldops/internal/models"
)

// Records is the record store the submission orchestrator writes to.
type Records struct {
	Completions *CompletionRepo
	WorkOrders  *WorkOrderRepo
	Photos      *PhotoRepo
}

func (r *Records) CreateCompletionRecord(ctx context.Context, rec *models.CompletionRecord) (string, error) {
	return r.Completions.Create(ctx, rec)
}

func (r *Records) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (string, error) {
	return r.WorkOrders.Create(ctx, wo)
}

// AttachAssetReference stores the reference and refreshes the owning record's
// photo count from the stored rows, so a repeated attach never double counts.
func (r *Records) AttachAssetReference(ctx context.Context, ref *models.AssetReference) error {
	if err := r.Photos.Attach(ctx, ref); err != nil {
		return err
	}
	n, err := r.Photos.CountByRecord(ctx, ref.RecordKind, ref.RecordID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	switch ref.RecordKind {
	case models.RecordKindCompletion:
		return r.Completions.SetPhotoCount(ctx, ref.RecordID, n, now)
	case models.RecordKindWorkOrder:
		return r.WorkOrders.SetPhotoCount(ctx, ref.RecordID, n, now)
	}
	return fmt.Errorf("unknown record kind %q", ref.RecordKind)
}
