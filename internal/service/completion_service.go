package service

import (
	"context"
	"errors"

	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/receipt"
	"github.com/parisxmas/fieldops/internal/repository"
)

var ErrRecordNotFound = errors.New("record not found")

type CompletionService struct {
	completions *repository.CompletionRepo
	photos      *repository.PhotoRepo
	jobs        *repository.DocumentJobRepo
	receipts    *receipt.Signer
}

func NewCompletionService(completions *repository.CompletionRepo, photos *repository.PhotoRepo, jobs *repository.DocumentJobRepo, receipts *receipt.Signer) *CompletionService {
	return &CompletionService{completions: completions, photos: photos, jobs: jobs, receipts: receipts}
}

// CompletionDetail is a record with everything attached to it.
type CompletionDetail struct {
	Record    *models.CompletionRecord `json:"record"`
	Photos    []models.AssetReference  `json:"photos"`
	Documents []models.DocumentJob     `json:"documents"`
}

func (s *CompletionService) Get(ctx context.Context, id string) (*CompletionDetail, error) {
	rec, err := s.completions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	photos, err := s.photos.FindByRecord(ctx, models.RecordKindCompletion, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.FindByRecord(ctx, models.RecordKindCompletion, id)
	if err != nil {
		return nil, err
	}
	return &CompletionDetail{Record: rec, Photos: photos, Documents: jobs}, nil
}

type SearchRequest struct {
	SubjectID         string `json:"subjectId,omitempty"`
	FollowUpRequired  *bool  `json:"followUpRequired,omitempty"`
	SatisfactionScore int    `json:"satisfactionScore,omitempty"`
	TextQuery         string `json:"textQuery,omitempty"`
	Skip              int    `json:"skip"`
	Limit             int    `json:"limit"`
}

type SearchResult struct {
	Records []models.CompletionRecord `json:"records"`
	Total   int                       `json:"total"`
	Mode    string                    `json:"mode"`
}

// Search runs a structured query, a text query, or text hits narrowed by the
// structured filters when both are given.
func (s *CompletionService) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	filters := req.filters()

	if req.TextQuery == "" {
		recs, total, err := s.completions.Find(ctx, filters, req.Skip, req.Limit)
		if err != nil {
			return nil, err
		}
		mode := "structured"
		if len(filters) == 0 {
			mode = "all"
		}
		return &SearchResult{Records: recs, Total: total, Mode: mode}, nil
	}

	hits, err := s.completions.TextSearch(ctx, req.TextQuery, 500)
	if err != nil {
		return nil, err
	}
	mode := "fts"
	if len(filters) > 0 {
		mode = "combined"
		kept := hits[:0]
		for _, h := range hits {
			if req.matches(&h) {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	total := len(hits)
	if req.Skip >= len(hits) {
		hits = nil
	} else {
		hits = hits[req.Skip:min(req.Skip+req.Limit, len(hits))]
	}
	return &SearchResult{Records: hits, Total: total, Mode: mode}, nil
}

func (r SearchRequest) filters() map[string]any {
	q := map[string]any{}
	if r.SubjectID != "" {
		q["subjectId"] = r.SubjectID
	}
	if r.FollowUpRequired != nil {
		q["followUpRequired"] = *r.FollowUpRequired
	}
	if r.SatisfactionScore > 0 {
		q["satisfactionScore"] = r.SatisfactionScore
	}
	return q
}

func (r SearchRequest) matches(rec *models.CompletionRecord) bool {
	if r.SubjectID != "" && rec.SubjectID != r.SubjectID {
		return false
	}
	if r.FollowUpRequired != nil && rec.FollowUpRequired != *r.FollowUpRequired {
		return false
	}
	if r.SatisfactionScore > 0 && rec.SatisfactionScore != r.SatisfactionScore {
		return false
	}
	return true
}

// ReceiptCheck is the result of verifying a receipt token.
type ReceiptCheck struct {
	Valid      bool   `json:"valid"`
	RecordKind string `json:"recordKind,omitempty"`
	RecordID   string `json:"recordId,omitempty"`
	SubjectID  string `json:"subjectId,omitempty"`
	Exists     bool   `json:"exists"`
}

// VerifyReceipt checks the token signature and that the completion it names exists.
func (s *CompletionService) VerifyReceipt(ctx context.Context, token string) (*ReceiptCheck, error) {
	claims, err := s.receipts.Verify(token)
	if err != nil {
		return &ReceiptCheck{Valid: false}, nil
	}
	check := &ReceiptCheck{Valid: true, RecordKind: claims.RecordKind, RecordID: claims.RecordID, SubjectID: claims.SubjectID}
	if claims.RecordKind == models.RecordKindCompletion {
		rec, err := s.completions.FindByID(ctx, claims.RecordID)
		if err != nil {
			return nil, err
		}
		check.Exists = rec != nil
	}
	return check, nil
}
