package repository

import (
	"context"
	"fmt"

	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/oxidb"
)

const DocumentJobsCollection = "_fs_document_jobs"

// DocumentJobRepo is the queue the rendering service polls.
type DocumentJobRepo struct {
	pool *db.Pool
}

func NewDocumentJobRepo(pool *db.Pool) *DocumentJobRepo {
	return &DocumentJobRepo{pool: pool}
}

func (r *DocumentJobRepo) EnsureIndexes(ctx context.Context) error {
	c := r.pool.Get()
	if err := c.CreateIndex(ctx, DocumentJobsCollection, "status"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, DocumentJobsCollection, []string{"recordKind", "recordId"})
}

func (r *DocumentJobRepo) Enqueue(ctx context.Context, job *models.DocumentJob) (string, error) {
	c := r.pool.Get()
	result, err := c.Insert(ctx, DocumentJobsCollection, toDoc(job))
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", DocumentJobsCollection, err)
	}
	job.ID = extractID(result)
	return job.ID, nil
}

func (r *DocumentJobRepo) FindByRecord(ctx context.Context, kind, recordID string) ([]models.DocumentJob, error) {
	c := r.pool.Get()
	docs, err := c.Find(ctx, DocumentJobsCollection,
		map[string]any{"recordKind": kind, "recordId": recordID},
		&oxidb.FindOptions{Sort: map[string]any{"createdAt": -1}})
	if err != nil {
		return nil, err
	}
	return fromDocs[models.DocumentJob](docs), nil
}

func (r *DocumentJobRepo) CountPending(ctx context.Context) (int, error) {
	c := r.pool.Get()
	return c.Count(ctx, DocumentJobsCollection, map[string]any{"status": models.DocumentJobPending})
}
