package submission

import (
	"context"

	"github.com/parisxmas/fieldops/internal/models"
)

// RecordStore persists the durable records and their asset back-fill.
type RecordStore interface {
	CreateCompletionRecord(ctx context.Context, rec *models.CompletionRecord) (string, error)
	CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (string, error)
	AttachAssetReference(ctx context.Context, ref *models.AssetReference) error
}

// BlobStore stores bytes and returns a URL that resolves to them.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DocumentGenerator asks the rendering service for a document about a record.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, recordKind, recordID string) error
}

// Sequencer hands out work-order numbers.
type Sequencer interface {
	NextWorkOrderNumber(ctx context.Context) (string, error)
}

// ReceiptIssuer signs a receipt the customer can later verify.
type ReceiptIssuer interface {
	Issue(recordKind, recordID, subjectID string) (string, error)
}

// StateSink receives upload-state transitions for staged assets.
type StateSink interface {
	MarkUploading(id string) error
	MarkUploaded(id, ref string) error
	MarkFailed(id string, cause error) error
}

type nopSink struct{}

func (nopSink) MarkUploading(string) error       { return nil }
func (nopSink) MarkUploaded(string, string) error { return nil }
func (nopSink) MarkFailed(string, error) error    { return nil }
