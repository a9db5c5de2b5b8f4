package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parisxmas/fieldops/internal/blob"
	"github.com/parisxmas/fieldops/internal/db"
	"github.com/parisxmas/fieldops/internal/docgen"
	"github.com/parisxmas/fieldops/internal/handler"
	"github.com/parisxmas/fieldops/internal/imaging"
	"github.com/parisxmas/fieldops/internal/models"
	"github.com/parisxmas/fieldops/internal/oxidb/oxidbtest"
	"github.com/parisxmas/fieldops/internal/receipt"
	"github.com/parisxmas/fieldops/internal/repository"
	"github.com/parisxmas/fieldops/internal/sequence"
	"github.com/parisxmas/fieldops/internal/service"
	"github.com/parisxmas/fieldops/internal/signature"
	"github.com/parisxmas/fieldops/internal/staging"
	"github.com/parisxmas/fieldops/internal/submission"
)

type stack struct {
	srv         *httptest.Server
	db          *oxidbtest.Server
	completions *repository.CompletionRepo
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	oxi := oxidbtest.Start(t)
	host, port := oxi.Addr()
	pool, err := db.NewPool(host, port, 2)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	seqDB, err := db.OpenSequenceDB(":memory:")
	if err != nil {
		t.Fatalf("sequence db: %v", err)
	}
	t.Cleanup(func() { seqDB.Close() })
	seq := sequence.New(seqDB, sequence.WorkOrderSequence, "WO-", 6)
	if err := seq.Ensure(ctx); err != nil {
		t.Fatalf("sequence: %v", err)
	}

	completions := repository.NewCompletionRepo(pool)
	workOrders := repository.NewWorkOrderRepo(pool)
	photos := repository.NewPhotoRepo(pool)
	jobs := repository.NewDocumentJobRepo(pool)
	if err := completions.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	if err := completions.EnsureTextIndex(ctx); err != nil {
		t.Fatalf("text index: %v", err)
	}
	blobs := blob.NewOxiDBStore(pool, "fieldops-test", "")
	receipts := receipt.NewSigner("test-secret", 0)

	opts := submission.DefaultOptions()
	opts.Detach = false
	orch := submission.New(submission.Deps{
		Records:   &repository.Records{Completions: completions, WorkOrders: workOrders, Photos: photos},
		Blobs:     blobs,
		Documents: docgen.NewQueueGenerator(jobs),
		Sequence:  seq,
		Receipts:  receipts,
	}, opts)

	newStore := func() *staging.Store {
		return staging.NewStore(staging.DefaultLimits, imaging.NewCompressor(imaging.Options{}), nil)
	}
	sessions := service.NewSessionService(orch, newStore, signature.DefaultOptions, 0)

	r := New(Handlers{
		Sessions:    handler.NewSessionHandler(sessions),
		Completions: handler.NewCompletionHandler(service.NewCompletionService(completions, photos, jobs, receipts)),
		WorkOrders:  handler.NewWorkOrderHandler(service.NewWorkOrderService(orch, newStore, workOrders, photos, signature.DefaultOptions)),
		Blobs:       handler.NewBlobHandler(blobs),
		Admin: handler.NewAdminHandler(map[string]handler.Collection{
			repository.CompletionsCollection: completions,
		}),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, db: oxi, completions: completions}
}

func (s *stack) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, s.srv.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

var strokes = map[string]any{
	"strokes": []map[string]any{{"points": []map[string]float64{{"x": 40, "y": 100}, {"x": 200, "y": 60}, {"x": 380, "y": 140}}}},
}

func step(view map[string]any) string {
	wiz, _ := view["wizard"].(map[string]any)
	s, _ := wiz["step"].(string)
	return s
}

func TestHealthz(t *testing.T) {
	s := newStack(t)
	resp, err := http.Get(s.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestCompletionWizardEndToEnd(t *testing.T) {
	s := newStack(t)

	status, sess := s.do(t, http.MethodPost, "/api/v1/completions/sessions", map[string]string{"subjectId": "job-42"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, sess)
	}
	base := "/api/v1/completions/sessions/" + sess["id"].(string)

	// Info cannot be left without a narrative.
	status, body := s.do(t, http.MethodPost, base+"/advance", nil)
	if status != http.StatusUnprocessableEntity || body["field"] != "clientName" {
		t.Fatalf("advance blank info: %d %v", status, body)
	}

	if status, body = s.do(t, http.MethodPut, base+"/narrative", map[string]string{
		"clientName": "J. Jansen", "workPerformed": "Replaced boiler valve",
	}); status != http.StatusOK {
		t.Fatalf("narrative: %d %v", status, body)
	}
	for i := 0; i < 4; i++ {
		if status, body = s.do(t, http.MethodPost, base+"/advance", nil); status != http.StatusOK {
			t.Fatalf("advance %d: %d %v", i, status, body)
		}
	}
	if step(body) != "satisfaction" {
		t.Fatalf("at %q, want satisfaction", step(body))
	}
	s.do(t, http.MethodPut, base+"/satisfaction", map[string]int{"score": 5})
	if status, body = s.do(t, http.MethodPost, base+"/advance", nil); status != http.StatusOK {
		t.Fatalf("leave satisfaction: %d %v", status, body)
	}

	// Submit is refused before the review step.
	if status, _ = s.do(t, http.MethodPost, base+"/submit", nil); status != http.StatusConflict {
		t.Fatalf("early submit: %d", status)
	}

	for _, role := range []string{"customer", "installer"} {
		if status, body = s.do(t, http.MethodPut, base+"/signatures/"+role, strokes); status != http.StatusOK {
			t.Fatalf("sign %s: %d %v", role, status, body)
		}
	}
	if status, body = s.do(t, http.MethodPost, base+"/advance", nil); status != http.StatusOK || step(body) != "review" {
		t.Fatalf("to review: %d %v", status, body)
	}

	status, body = s.do(t, http.MethodPost, base+"/submit", nil)
	if status != http.StatusCreated {
		t.Fatalf("submit: %d %v", status, body)
	}
	out := body["outcome"].(map[string]any)
	if body["warning"] != "" {
		t.Errorf("warning = %v", body["warning"])
	}
	if step(body["session"].(map[string]any)) != "submitted" {
		t.Errorf("session not submitted: %v", body["session"])
	}
	if n := len(s.db.Docs(repository.CompletionsCollection)); n != 1 {
		t.Fatalf("%d completion records", n)
	}

	id := out["recordId"].(string)
	status, detail := s.do(t, http.MethodGet, "/api/v1/completions/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("get completion: %d %v", status, detail)
	}
	rec := detail["record"].(map[string]any)
	if rec["clientName"] != "J. Jansen" || !strings.HasPrefix(rec["customerSignature"].(string), "data:image/png;base64,") {
		t.Errorf("record = %v", rec)
	}
	if docs, _ := detail["documents"].([]any); len(docs) != 1 {
		t.Errorf("documents = %v", detail["documents"])
	}

	status, check := s.do(t, http.MethodGet, "/api/v1/receipts/verify?token="+out["receipt"].(string), nil)
	if status != http.StatusOK || check["valid"] != true || check["exists"] != true {
		t.Errorf("receipt check: %d %v", status, check)
	}

	// A submitted session takes no further edits.
	if status, _ = s.do(t, http.MethodPost, base+"/retreat", nil); status != http.StatusConflict {
		t.Errorf("retreat after submit: %d", status)
	}
}

func TestSessionErrors(t *testing.T) {
	s := newStack(t)

	if status, _ := s.do(t, http.MethodGet, "/api/v1/completions/sessions/missing", nil); status != http.StatusNotFound {
		t.Errorf("missing session: %d", status)
	}
	if status, _ := s.do(t, http.MethodPost, "/api/v1/completions/sessions", map[string]string{}); status != http.StatusBadRequest {
		t.Errorf("no subject: %d", status)
	}
	if status, _ := s.do(t, http.MethodPost, "/api/v1/completions/sessions", map[string]any{"subjectId": "x", "extra": 1}); status != http.StatusBadRequest {
		t.Errorf("unknown field: %d", status)
	}

	_, sess := s.do(t, http.MethodPost, "/api/v1/completions/sessions", map[string]string{"subjectId": "x"})
	base := "/api/v1/completions/sessions/" + sess["id"].(string)
	if status, _ := s.do(t, http.MethodPost, base+"/retreat", nil); status != http.StatusConflict {
		t.Errorf("retreat from first step: %d", status)
	}
	if status, _ := s.do(t, http.MethodPut, base+"/signatures/witness", strokes); status != http.StatusBadRequest {
		t.Errorf("unknown role: %d", status)
	}
	if status, _ := s.do(t, http.MethodPut, base+"/signatures/customer", map[string]any{"strokes": []any{}}); status != http.StatusUnprocessableEntity {
		t.Errorf("empty signature: %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, base+"/assets/nope/preview", nil); status != http.StatusNotFound {
		t.Errorf("missing preview: %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/v1/receipts/verify?token=garbage", nil); status != http.StatusOK {
		t.Errorf("bad receipt: %d", status)
	}
}

func TestWorkOrderCreate(t *testing.T) {
	s := newStack(t)

	data, _ := json.Marshal(map[string]any{
		"subjectId":  "delivery-7",
		"summary":    "Delivered two pallets",
		"signerName": "A. de Vries",
		"strokes":    strokes["strokes"],
	})
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	mp.WriteField("data", string(data))
	mp.Close()

	resp, err := http.Post(s.srv.URL+"/api/v1/work-orders", mp.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	out := body["outcome"].(map[string]any)
	if out["number"] != "WO-000001" {
		t.Errorf("number = %v", out["number"])
	}

	status, detail := s.do(t, http.MethodGet, "/api/v1/work-orders/"+out["recordId"].(string), nil)
	if status != http.StatusOK {
		t.Fatalf("get: %d %v", status, detail)
	}
	wo := detail["workOrder"].(map[string]any)
	if wo["summary"] != "Delivered two pallets" || wo["signerName"] != "A. de Vries" {
		t.Errorf("work order = %v", wo)
	}
}

func TestWorkOrderRequiresSummary(t *testing.T) {
	s := newStack(t)
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	mp.WriteField("data", `{"subjectId":"d"}`)
	mp.Close()
	resp, err := http.Post(s.srv.URL+"/api/v1/work-orders", mp.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCompletionSearch(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	seed := []models.CompletionRecord{
		{SubjectID: "a", SubmissionKey: "k1", ClientName: "C", WorkPerformed: "Replaced boiler valve", SatisfactionScore: 5},
		{SubjectID: "b", SubmissionKey: "k2", ClientName: "C", WorkPerformed: "Serviced boiler", SatisfactionScore: 3, FollowUpRequired: true},
		{SubjectID: "b", SubmissionKey: "k3", ClientName: "C", WorkPerformed: "Painted fence", SatisfactionScore: 4},
	}
	for i := range seed {
		if _, err := s.completions.Create(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		req   map[string]any
		mode  string
		total float64
	}{
		{"all", map[string]any{}, "all", 3},
		{"structured", map[string]any{"subjectId": "b"}, "structured", 2},
		{"fts", map[string]any{"textQuery": "boiler"}, "fts", 2},
		{"combined", map[string]any{"textQuery": "boiler", "followUpRequired": true}, "combined", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/v1/completions/search", tt.req)
			if status != http.StatusOK {
				t.Fatalf("status %d %v", status, body)
			}
			if body["mode"] != tt.mode || body["total"] != tt.total {
				t.Errorf("mode=%v total=%v", body["mode"], body["total"])
			}
		})
	}
}
