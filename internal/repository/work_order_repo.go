package repository

import (
	"context"
	"fmt"

	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/oxidb"
)

const WorkOrdersCollection = "_fs_work_orders"

type WorkOrderRepo struct {
	pool *db.Pool
}

func NewWorkOrderRepo(pool *db.Pool) *WorkOrderRepo {
	return &WorkOrderRepo{pool: pool}
}

func (r *WorkOrderRepo) EnsureIndexes(ctx context.Context) error {
	c := r.pool.Get()
	if err := c.CreateUniqueIndex(ctx, WorkOrdersCollection, "number"); err != nil {
		return err
	}
	return c.CreateIndex(ctx, WorkOrdersCollection, "subjectId")
}

func (r *WorkOrderRepo) Create(ctx context.Context, wo *models.WorkOrder) (string, error) {
	c := r.pool.Get()
	result, err := c.Insert(ctx, WorkOrdersCollection, toDoc(wo))
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", WorkOrdersCollection, err)
	}
	return extractID(result), nil
}

func (r *WorkOrderRepo) FindByID(ctx context.Context, id string) (*models.WorkOrder, error) {
	return r.findOne(ctx, map[string]any{"_id": toNumericID(id)})
}

func (r *WorkOrderRepo) FindByNumber(ctx context.Context, number string) (*models.WorkOrder, error) {
	return r.findOne(ctx, map[string]any{"number": number})
}

func (r *WorkOrderRepo) findOne(ctx context.Context, query map[string]any) (*models.WorkOrder, error) {
	c := r.pool.Get()
	doc, err := c.FindOne(ctx, WorkOrdersCollection, query)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", WorkOrdersCollection, err)
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc[models.WorkOrder](doc)
}

func (r *WorkOrderRepo) SetPhotoCount(ctx context.Context, id string, n int, updatedAt string) error {
	c := r.pool.Get()
	_, err := c.UpdateOne(ctx, WorkOrdersCollection,
		map[string]any{"_id": toNumericID(id)},
		map[string]any{"$set": map[string]any{"photoCount": n, "updatedAt": updatedAt}})
	return err
}

// RecordOutcome stores the soft failures of a submission that completed in
// the background.
func (r *WorkOrderRepo) RecordOutcome(ctx context.Context, id string, failedPhotoIDs []string, documentError, updatedAt string) error {
	if failedPhotoIDs == nil {
		failedPhotoIDs = []string{}
	}
	c := r.pool.Get()
	_, err := c.UpdateOne(ctx, WorkOrdersCollection,
		map[string]any{"_id": toNumericID(id)},
		map[string]any{"$set": map[string]any{
			"failedPhotoIds": failedPhotoIDs,
			"documentError":  documentError,
			"updatedAt":      updatedAt,
		}})
	if err != nil {
		return fmt.Errorf("%s: record outcome: %w", WorkOrdersCollection, err)
	}
	return nil
}

func (r *WorkOrderRepo) ListIndexes(ctx context.Context) ([]map[string]any, error) {
	c := r.pool.Get()
	return c.ListIndexes(ctx, WorkOrdersCollection)
}

func (r *WorkOrderRepo) Compact(ctx context.Context) (map[string]any, error) {
	c := r.pool.Get()
	return c.Compact(ctx, WorkOrdersCollection)
}

// LatestNumber returns the highest stored work-order number, or "".
func (r *WorkOrderRepo) LatestNumber(ctx context.Context) (string, error) {
	c := r.pool.Get()
	limit := 1
	docs, err := c.Find(ctx, WorkOrdersCollection, map[string]any{}, &oxidb.FindOptions{
		Sort:  map[string]any{"number": -1},
		Limit: &limit,
	})
	if err != nil || len(docs) == 0 {
		return "", err
	}
	n, _ := docs[0]["number"].(string)
	return n, nil
}
