// Package docgen asks the rendering service for a work-order document.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parisxmas/fieldops/internal/models"
)

// DocumentKind is the template the renderer produces for every record.
const DocumentKind = "work_order_pdf"

// JobQueue persists document jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.DocumentJob) (string, error)
}

// QueueGenerator enqueues a job the rendering service picks up.
type QueueGenerator struct {
	queue JobQueue
}

func NewQueueGenerator(q JobQueue) *QueueGenerator {
	return &QueueGenerator{queue: q}
}

func (g *QueueGenerator) GenerateDocument(ctx context.Context, recordKind, recordID string) error {
	job := &models.DocumentJob{
		JobID:      uuid.NewString(),
		RecordID:   recordID,
		RecordKind: recordKind,
		Kind:       DocumentKind,
		Status:     models.DocumentJobPending,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := g.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("docgen: enqueue: %w", err)
	}
	return nil
}

// WebhookGenerator posts the request straight to the renderer.
type WebhookGenerator struct {
	url    string
	client *http.Client
}

func NewWebhookGenerator(url string, timeout time.Duration) *WebhookGenerator {
	return &WebhookGenerator{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookRequest struct {
	JobID      string `json:"jobId"`
	RecordKind string `json:"recordKind"`
	RecordID   string `json:"recordId"`
	Kind       string `json:"kind"`
}

func (g *WebhookGenerator) GenerateDocument(ctx context.Context, recordKind, recordID string) error {
	body, err := json.Marshal(webhookRequest{
		JobID:      uuid.NewString(),
		RecordKind: recordKind,
		RecordID:   recordID,
		Kind:       DocumentKind,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("docgen: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("docgen: renderer returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
