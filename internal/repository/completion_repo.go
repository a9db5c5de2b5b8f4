package repository

import (
	"context"
	"fmt"

	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/oxidb"
)

const CompletionsCollection = "_fs_completions"

// CompletionTextFields are covered by the completion text index.
var CompletionTextFields = []string{"clientName", "workPerformed", "materialsUsed", "recommendations", "notes"}

type CompletionRepo struct {
	pool *db.Pool
}

func NewCompletionRepo(pool *db.Pool) *CompletionRepo {
	return &CompletionRepo{pool: pool}
}

func (r *CompletionRepo) EnsureIndexes(ctx context.Context) error {
	c := r.pool.Get()
	if err := c.CreateUniqueIndex(ctx, CompletionsCollection, "submissionKey"); err != nil {
		return err
	}
	if err := c.CreateIndex(ctx, CompletionsCollection, "subjectId"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, CompletionsCollection, []string{"subjectId", "createdAt"})
}

func (r *CompletionRepo) EnsureTextIndex(ctx context.Context) error {
	c := r.pool.Get()
	return c.CreateTextIndex(ctx, CompletionsCollection, CompletionTextFields)
}

// Create inserts rec unless a record with the same submission key exists, in
// which case the existing id is returned.
func (r *CompletionRepo) Create(ctx context.Context, rec *models.CompletionRecord) (string, error) {
	if rec.SubmissionKey != "" {
		existing, err := r.FindBySubmissionKey(ctx, rec.SubmissionKey)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	c := r.pool.Get()
	result, err := c.Insert(ctx, CompletionsCollection, toDoc(rec))
	if oxidb.IsDuplicateKey(err) {
		existing, ferr := r.FindBySubmissionKey(ctx, rec.SubmissionKey)
		if ferr == nil && existing != nil {
			return existing.ID, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", CompletionsCollection, err)
	}
	return extractID(result), nil
}

func (r *CompletionRepo) FindByID(ctx context.Context, id string) (*models.CompletionRecord, error) {
	return r.findOne(ctx, map[string]any{"_id": toNumericID(id)})
}

func (r *CompletionRepo) FindBySubmissionKey(ctx context.Context, key string) (*models.CompletionRecord, error) {
	return r.findOne(ctx, map[string]any{"submissionKey": key})
}

func (r *CompletionRepo) findOne(ctx context.Context, query map[string]any) (*models.CompletionRecord, error) {
	c := r.pool.Get()
	doc, err := c.FindOne(ctx, CompletionsCollection, query)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", CompletionsCollection, err)
	}
	if doc == nil {
		return nil, nil
	}
	return fromDoc[models.CompletionRecord](doc)
}

func (r *CompletionRepo) FindBySubject(ctx context.Context, subjectID string, skip, limit int) ([]models.CompletionRecord, int, error) {
	return r.Find(ctx, map[string]any{"subjectId": subjectID}, skip, limit)
}

// SetPhotoCount is the only mutation a completion record allows after creation.
func (r *CompletionRepo) SetPhotoCount(ctx context.Context, id string, n int, updatedAt string) error {
	c := r.pool.Get()
	_, err := c.UpdateOne(ctx, CompletionsCollection,
		map[string]any{"_id": toNumericID(id)},
		map[string]any{"$set": map[string]any{"photoCount": n, "updatedAt": updatedAt}})
	return err
}

func (r *CompletionRepo) TextSearch(ctx context.Context, query string, limit int) ([]models.CompletionRecord, error) {
	c := r.pool.Get()
	docs, err := c.TextSearch(ctx, CompletionsCollection, query, limit)
	if err != nil {
		return nil, err
	}
	return fromDocs[models.CompletionRecord](docs), nil
}

func (r *CompletionRepo) ListIndexes(ctx context.Context) ([]map[string]any, error) {
	c := r.pool.Get()
	return c.ListIndexes(ctx, CompletionsCollection)
}

func (r *CompletionRepo) Compact(ctx context.Context) (map[string]any, error) {
	c := r.pool.Get()
	return c.Compact(ctx, CompletionsCollection)
}

func (r *CompletionRepo) CountAll(ctx context.Context) (int, error) {
	c := r.pool.Get()
	return c.Count(ctx, CompletionsCollection, map[string]any{})
}

// Find returns records matching an equality query, newest first.
func (r *CompletionRepo) Find(ctx context.Context, query map[string]any, skip, limit int) ([]models.CompletionRecord, int, error) {
	c := r.pool.Get()
	total, err := c.Count(ctx, CompletionsCollection, query)
	if err != nil {
		return nil, 0, err
	}
	docs, err := c.Find(ctx, CompletionsCollection, query, &oxidb.FindOptions{
		Sort:  map[string]any{"createdAt": -1},
		Skip:  &skip,
		Limit: &limit,
	})
	if err != nil {
		return nil, 0, err
	}
	return fromDocs[models.CompletionRecord](docs), total, nil
}
