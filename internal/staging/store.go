// Package staging holds captured photos locally until the completion is submitted.
package staging

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/parisxmas/fieldops/internal/imaging"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/textnorm"
)

var (
	ErrInvalidType      = errors.New("staging: input is not an image")
	ErrTooLarge         = errors.New("staging: input exceeds the size limit")
	ErrCapacityExceeded = errors.New("staging: asset limit reached")
	ErrInvalidCategory  = errors.New("staging: unknown category")
	ErrNotFound         = errors.New("staging: asset not found")
)

// Compressor shrinks a validated image before it is staged.
type Compressor interface {
	Compress(data []byte) (*imaging.Result, error)
}

// Limits bound a staging session. Zero disables a count limit.
type Limits struct {
	MaxBytes       int64
	MaxAssets      int
	MaxPerCategory int
}

// DefaultLimits match a phone session: 10 MiB per photo, 15 per category, 45 total.
var DefaultLimits = Limits{MaxBytes: 10 << 20, MaxAssets: 45, MaxPerCategory: 15}

// Input is a file as selected from the camera or gallery.
type Input struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store is an arena of staged assets keyed by id. It owns every preview it
// creates and releases it on removal, reset or successful upload.
type Store struct {
	mu         sync.Mutex
	limits     Limits
	compressor Compressor
	previews   PreviewStore
	assets     map[string]*models.StagedAsset
	order      []string
	version    uint64
	now        func() time.Time
}

func NewStore(limits Limits, compressor Compressor, previews PreviewStore) *Store {
	if previews == nil {
		previews = NewMemPreviews()
	}
	return &Store{
		limits:     limits,
		compressor: compressor,
		previews:   previews,
		assets:     make(map[string]*models.StagedAsset),
		now:        time.Now,
	}
}

// DefaultDescription is the label an asset gets when the user typed none.
func DefaultDescription(c models.Category) string {
	return textnorm.Title(string(c)) + " photo"
}

// Add validates, compresses and stages one photo. Capacity is checked before
// any decoding so a rejected input is never compressed.
func (s *Store) Add(ctx context.Context, in Input, category models.Category, description string) (*models.StagedAsset, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	s.mu.Lock()
	err := s.checkCapacity(category)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if _, ok := imaging.Sniff(in.Data); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, in.Name)
	}
	if s.limits.MaxBytes > 0 && int64(len(in.Data)) > s.limits.MaxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, in.Name, len(in.Data), s.limits.MaxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := s.compressor.Compress(in.Data)
	if err != nil {
		if errors.Is(err, imaging.ErrNotImage) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidType, in.Name)
		}
		return nil, fmt.Errorf("staging: compress %s: %w", in.Name, err)
	}

	sum := blake2b.Sum256(res.Data)
	description = textnorm.Clean(description)
	if description == "" {
		description = DefaultDescription(category)
	}
	asset := &models.StagedAsset{
		ID:           ulid.Make().String(),
		Content:      res.Data,
		ContentType:  res.ContentType,
		Category:     category,
		Description:  description,
		UploadState:  models.UploadStaged,
		Width:        res.Width,
		Height:       res.Height,
		Size:         int64(len(res.Data)),
		OriginalSize: int64(len(in.Data)),
		Checksum:     hex.EncodeToString(sum[:]),
		CapturedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another add may have taken the last slot while we were compressing.
	if err := s.checkCapacity(category); err != nil {
		return nil, err
	}
	ref, err := s.previews.Put(asset.ID, asset.Content)
	if err != nil {
		return nil, err
	}
	asset.Preview = ref
	s.assets[asset.ID] = asset
	s.order = append(s.order, asset.ID)
	s.version++
	out := *asset
	return &out, nil
}

func (s *Store) checkCapacity(category models.Category) error {
	if s.limits.MaxAssets > 0 && len(s.assets) >= s.limits.MaxAssets {
		return fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, len(s.assets), s.limits.MaxAssets)
	}
	if s.limits.MaxPerCategory > 0 {
		if n := s.countCategory(category); n >= s.limits.MaxPerCategory {
			return fmt.Errorf("%w: %d %s photos of %d", ErrCapacityExceeded, n, category, s.limits.MaxPerCategory)
		}
	}
	return nil
}

func (s *Store) countCategory(category models.Category) int {
	n := 0
	for _, a := range s.assets {
		if a.Category == category {
			n++
		}
	}
	return n
}

// Remove drops an asset and releases its preview. Absent ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return
	}
	s.release(a)
	delete(s.assets, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
}

func (s *Store) UpdateCategory(id string, category models.Category) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return ErrNotFound
	}
	if a.Category == category {
		return nil
	}
	if s.limits.MaxPerCategory > 0 && s.countCategory(category) >= s.limits.MaxPerCategory {
		return fmt.Errorf("%w: %s is full", ErrCapacityExceeded, category)
	}
	a.Category = category
	s.version++
	return nil
}

func (s *Store) UpdateDescription(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return ErrNotFound
	}
	a.Description = textnorm.Clean(text)
	s.version++
	return nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assets)
}

func (s *Store) CountByCategory() map[models.Category]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.Category]int, len(models.Categories))
	for _, a := range s.assets {
		counts[a.Category]++
	}
	return counts
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Get returns a copy of one asset.
func (s *Store) Get(id string) (models.StagedAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return models.StagedAsset{}, false
	}
	return *a, true
}

// List returns copies of all assets in capture order.
func (s *Store) List() []models.StagedAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StagedAsset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.assets[id])
	}
	return out
}

// Snapshot returns copies of all assets grouped by category, capture order within a group.
func (s *Store) Snapshot() []models.StagedAsset {
	out := s.List()
	rank := make(map[models.Category]int, len(models.Categories))
	for i, c := range models.Categories {
		rank[c] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Category] < rank[out[j].Category]
	})
	return out
}

// Failed returns copies of assets whose last upload attempt failed.
func (s *Store) Failed() []models.StagedAsset {
	var out []models.StagedAsset
	for _, a := range s.Snapshot() {
		if a.UploadState == models.UploadFailed {
			out = append(out, a)
		}
	}
	return out
}

// Preview returns the preview bytes and content type of an asset.
func (s *Store) Preview(id string) ([]byte, string, error) {
	s.mu.Lock()
	a, ok := s.assets[id]
	var ref, ct string
	if ok {
		ref, ct = a.Preview, a.ContentType
	}
	s.mu.Unlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	if ref == "" {
		return nil, "", ErrPreviewGone
	}
	data, err := s.previews.Open(ref)
	return data, ct, err
}

func (s *Store) MarkUploading(id string) error {
	return s.transition(id, func(a *models.StagedAsset) {
		a.UploadState = models.UploadUploading
		a.UploadError = ""
	})
}

// MarkUploaded records the remote reference and releases the local preview.
// Content is kept so a failed back-fill can be retried.
func (s *Store) MarkUploaded(id, ref string) error {
	return s.transition(id, func(a *models.StagedAsset) {
		a.UploadState = models.UploadUploaded
		a.RemoteRef = ref
		a.UploadError = ""
		s.release(a)
	})
}

func (s *Store) MarkFailed(id string, cause error) error {
	return s.transition(id, func(a *models.StagedAsset) {
		a.UploadState = models.UploadFailed
		a.RemoteRef = ""
		if cause != nil {
			a.UploadError = cause.Error()
		}
	})
}

func (s *Store) transition(id string, fn func(a *models.StagedAsset)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	s.version++
	return nil
}

// Reset removes every asset and releases all previews.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		s.release(a)
	}
	s.assets = make(map[string]*models.StagedAsset)
	s.order = nil
	s.version++
}

func (s *Store) release(a *models.StagedAsset) {
	if a.Preview == "" {
		return
	}
	if err := s.previews.Release(a.Preview); err != nil {
		log.Printf("Warning: staging: release preview %s: %v", a.ID, err)
	}
	a.Preview = ""
}
