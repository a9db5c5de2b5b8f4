package submission

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/parisxmas/fieldops/internal/models"
)

// Pipeline uploads one staged asset per call. One attempt, no shared backoff.
type Pipeline struct {
	blobs   BlobStore
	timeout time.Duration
	now     func() time.Time
}

func NewPipeline(blobs BlobStore, timeout time.Duration) *Pipeline {
	return &Pipeline{blobs: blobs, timeout: timeout, now: time.Now}
}

// Target identifies the record an asset is uploaded for.
type Target struct {
	Kind     string
	RecordID string
}

func (t Target) prefix() string {
	if t.Kind == models.RecordKindWorkOrder {
		return "work-orders"
	}
	return "completions"
}

// Upload stores the asset and returns the reference to back-fill. The asset's
// state moves to uploading, then to uploaded or failed.
func (p *Pipeline) Upload(ctx context.Context, target Target, asset models.StagedAsset, sink StateSink) (models.AssetReference, error) {
	if sink == nil {
		sink = nopSink{}
	}
	sink.MarkUploading(asset.ID)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	key := path.Join(target.prefix(), target.RecordID, string(asset.Category), uuid.NewString()+extension(asset.ContentType))
	url, err := p.blobs.PutBlob(ctx, key, asset.Content, asset.ContentType)
	if err != nil {
		err = fmt.Errorf("upload %s: %w", asset.ID, err)
		sink.MarkFailed(asset.ID, err)
		return models.AssetReference{}, err
	}
	sink.MarkUploaded(asset.ID, url)

	return models.AssetReference{
		RecordID:    target.RecordID,
		RecordKind:  target.Kind,
		AssetID:     asset.ID,
		Category:    asset.Category,
		URL:         url,
		BlobKey:     key,
		Description: asset.Description,
		ContentType: asset.ContentType,
		Size:        int64(len(asset.Content)),
		Checksum:    asset.Checksum,
		CreatedAt:   p.now().UTC().Format(time.RFC3339),
	}, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ".bin"
}
