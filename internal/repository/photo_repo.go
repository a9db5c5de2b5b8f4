package repository

import (
	"context"
	"fmt"

	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/oxidb"
)

const PhotosCollection = "_fs_photos"

// PhotoRepo stores the back-filled asset references of completions and work orders.
type PhotoRepo struct {
	pool *db.Pool
}

func NewPhotoRepo(pool *db.Pool) *PhotoRepo {
	return &PhotoRepo{pool: pool}
}

func (r *PhotoRepo) EnsureIndexes(ctx context.Context) error {
	c := r.pool.Get()
	if err := c.CreateIndex(ctx, PhotosCollection, "recordId"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, PhotosCollection, []string{"recordKind", "recordId", "assetId"})
}

// Attach stores ref once per (record, asset). A repeated attach updates the
// stored location instead of adding a row.
func (r *PhotoRepo) Attach(ctx context.Context, ref *models.AssetReference) error {
	c := r.pool.Get()
	key := map[string]any{"recordKind": ref.RecordKind, "recordId": ref.RecordID, "assetId": ref.AssetID}
	existing, err := c.FindOne(ctx, PhotosCollection, key)
	if err != nil {
		return fmt.Errorf("%s: find: %w", PhotosCollection, err)
	}
	if existing != nil {
		_, err = c.UpdateOne(ctx, PhotosCollection, key, map[string]any{"$set": map[string]any{
			"url": ref.URL, "blobKey": ref.BlobKey, "size": ref.Size,
		}})
		return err
	}
	result, err := c.Insert(ctx, PhotosCollection, toDoc(ref))
	if err != nil {
		return fmt.Errorf("%s: insert: %w", PhotosCollection, err)
	}
	ref.ID = extractID(result)
	return nil
}

func (r *PhotoRepo) FindByRecord(ctx context.Context, kind, recordID string) ([]models.AssetReference, error) {
	c := r.pool.Get()
	docs, err := c.Find(ctx, PhotosCollection,
		map[string]any{"recordKind": kind, "recordId": recordID},
		&oxidb.FindOptions{Sort: map[string]any{"createdAt": 1}})
	if err != nil {
		return nil, err
	}
	return fromDocs[models.AssetReference](docs), nil
}

func (r *PhotoRepo) CountByRecord(ctx context.Context, kind, recordID string) (int, error) {
	c := r.pool.Get()
	return c.Count(ctx, PhotosCollection, map[string]any{"recordKind": kind, "recordId": recordID})
}

func (r *PhotoRepo) ListIndexes(ctx context.Context) ([]map[string]any, error) {
	c := r.pool.Get()
	return c.ListIndexes(ctx, PhotosCollection)
}

func (r *PhotoRepo) Compact(ctx context.Context) (map[string]any, error) {
	c := r.pool.Get()
	return c.Compact(ctx, PhotosCollection)
}
