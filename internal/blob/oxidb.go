// Package blob stores uploaded photos and returns a URL that resolves to them.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/parisxmas/fieldops/internal/db"
)

// OxiDBStore keeps blobs in an OxiDB bucket. URLs point at the service's own
// blob route unless a public base URL is configured.
type OxiDBStore struct {
	pool    *db.Pool
	bucket  string
	baseURL string
}

func NewOxiDBStore(pool *db.Pool, bucket, baseURL string) *OxiDBStore {
	if baseURL == "" {
		baseURL = "/api/v1/blobs"
	}
	return &OxiDBStore{pool: pool, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *OxiDBStore) EnsureBucket(ctx context.Context) error {
	c := s.pool.Get()
	return c.CreateBucket(ctx, s.bucket)
}

func (s *OxiDBStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	c := s.pool.Get()
	if _, err := c.PutObject(ctx, s.bucket, key, data, contentType, map[string]string{"source": "fieldops"}); err != nil {
		return "", fmt.Errorf("blob: put %s/%s: %w", s.bucket, key, err)
	}
	return s.baseURL + "/" + key, nil
}

// GetBlob returns the stored bytes and their content type.
func (s *OxiDBStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	c := s.pool.Get()
	data, meta, err := c.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, "", err
	}
	ct, _ := meta["content_type"].(string)
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}

func (s *OxiDBStore) DeleteBlob(ctx context.Context, key string) error {
	c := s.pool.Get()
	return c.DeleteObject(ctx, s.bucket, key)
}
