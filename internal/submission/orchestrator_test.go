package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parisxmas/fieldops/internal/models"
)

type fakeRecords struct {
	mu        sync.Mutex
	createErr error
	attachErr map[string]error
	created   []*models.CompletionRecord
	orders    []*models.WorkOrder
	attached  []models.AssetReference
	calls     int
}

func (f *fakeRecords) CreateCompletionRecord(ctx context.Context, rec *models.CompletionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, rec)
	return fmt.Sprintf("rec-%d", len(f.created)), nil
}

func (f *fakeRecords) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.orders = append(f.orders, wo)
	return fmt.Sprintf("wo-%d", len(f.orders)), nil
}

func (f *fakeRecords) AttachAssetReference(ctx context.Context, ref *models.AssetReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attachErr[ref.AssetID]; err != nil {
		return err
	}
	f.attached = append(f.attached, *ref)
	return nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	fail   map[string]bool
	delay  map[string]time.Duration
	block  chan struct{}
	puts   []string
	active int
	peak   int
}

func (f *fakeBlobs) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	id := string(data)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if d := f.delay[id]; d > 0 {
		time.Sleep(d)
	}
	if f.fail[id] {
		return "", errors.New("connection reset")
	}
	f.mu.Lock()
	f.puts = append(f.puts, key)
	f.mu.Unlock()
	return "https://blobs.test/" + key, nil
}

type fakeDocs struct {
	err   error
	mu    sync.Mutex
	calls []string
}

func (f *fakeDocs) GenerateDocument(ctx context.Context, kind, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+id)
	f.mu.Unlock()
	return f.err
}

func (f *fakeDocs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSequence struct{ n int }

func (f *fakeSequence) NextWorkOrderNumber(ctx context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("WO-%06d", f.n), nil
}

type recordingSink struct {
	mu     sync.Mutex
	states map[string]models.UploadState
}

func newSink() *recordingSink { return &recordingSink{states: map[string]models.UploadState{}} }

func (s *recordingSink) set(id string, st models.UploadState) error {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
	return nil
}
func (s *recordingSink) MarkUploading(id string) error        { return s.set(id, models.UploadUploading) }
func (s *recordingSink) MarkUploaded(id, ref string) error     { return s.set(id, models.UploadUploaded) }
func (s *recordingSink) MarkFailed(id string, err error) error { return s.set(id, models.UploadFailed) }

func assets(ids ...string) []models.StagedAsset {
	out := make([]models.StagedAsset, len(ids))
	for i, id := range ids {
		out[i] = models.StagedAsset{
			ID:          id,
			Content:     []byte(id),
			ContentType: "image/jpeg",
			Category:    models.CategoryAfter,
			UploadState: models.UploadStaged,
		}
	}
	return out
}

func payload(a []models.StagedAsset) *models.CompletionPayload {
	sig := models.SignatureArtifact{Content: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}
	return &models.CompletionPayload{
		SubjectID:         "subject-1",
		SubmissionKey:     "key-1",
		Narrative:         models.Narrative{ClientName: "J. Jansen", WorkPerformed: "Replaced boiler"},
		SatisfactionScore: 5,
		Assets:            a,
		Signatures: map[models.SignerRole]models.SignatureArtifact{
			models.SignerCustomer:  sig,
			models.SignerInstaller: sig,
		},
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Parallelism = 3
	opts.Detach = false
	return opts
}

func TestSubmitAllSucceed(t *testing.T) {
	recs := &fakeRecords{}
	blobs := &fakeBlobs{}
	docs := &fakeDocs{}
	o := New(Deps{Records: recs, Blobs: blobs, Documents: docs}, testOptions())
	sink := newSink()

	out, err := o.Submit(context.Background(), payload(assets("a1", "a2", "a3")), sink)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.RecordID != "rec-1" || out.Partial() || out.Warning() != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(recs.attached) != 3 || len(out.References) != 3 {
		t.Fatalf("attached %d refs, outcome has %d", len(recs.attached), len(out.References))
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if sink.states[id] != models.UploadUploaded {
			t.Errorf("asset %s state = %s", id, sink.states[id])
		}
	}
	if docs.count() != 1 {
		t.Errorf("document generated %d times", docs.count())
	}
	rec := recs.created[0]
	if !strings.HasPrefix(rec.CustomerSignature, "data:image/png;base64,") || rec.InstallerSignature == "" {
		t.Errorf("signatures not embedded: %q", rec.CustomerSignature)
	}
	if rec.SubmissionKey != "key-1" {
		t.Errorf("submission key = %q", rec.SubmissionKey)
	}
	for _, key := range blobs.puts {
		if !strings.HasPrefix(key, "completions/rec-1/after/") || !strings.HasSuffix(key, ".jpg") {
			t.Errorf("unexpected blob key %q", key)
		}
	}
}

func TestSubmitPartialUploadFailure(t *testing.T) {
	recs := &fakeRecords{}
	blobs := &fakeBlobs{fail: map[string]bool{"a2": true, "a4": true}}
	docs := &fakeDocs{}
	o := New(Deps{Records: recs, Blobs: blobs, Documents: docs}, testOptions())
	sink := newSink()

	out, err := o.Submit(context.Background(), payload(assets("a1", "a2", "a3", "a4", "a5")), sink)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := strings.Join(out.FailedAssetIDs, ","); got != "a2,a4" {
		t.Fatalf("failed = %s", got)
	}
	if len(recs.attached) != 3 {
		t.Fatalf("attached %d, want 3", len(recs.attached))
	}
	if sink.states["a2"] != models.UploadFailed || sink.states["a3"] != models.UploadUploaded {
		t.Errorf("states = %v", sink.states)
	}
	if docs.count() != 1 {
		t.Error("document generation must still run after upload failures")
	}
	if w := out.Warning(); !strings.Contains(w, "2 photos") {
		t.Errorf("warning = %q", w)
	}
}

func TestSubmitFatalRunsNothing(t *testing.T) {
	recs := &fakeRecords{createErr: errors.New("store unavailable")}
	blobs := &fakeBlobs{}
	docs := &fakeDocs{}
	o := New(Deps{Records: recs, Blobs: blobs, Documents: docs}, testOptions())

	out, err := o.Submit(context.Background(), payload(assets("a1", "a2")), nil)
	if out != nil {
		t.Fatalf("outcome on fatal: %+v", out)
	}
	var fe *FatalError
	if !errors.As(err, &fe) || !IsFatal(err) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if len(blobs.puts) != 0 || docs.count() != 0 {
		t.Errorf("downstream ran: puts=%d docs=%d", len(blobs.puts), docs.count())
	}
}

func TestSubmitRequiresBothSignatures(t *testing.T) {
	recs := &fakeRecords{}
	o := New(Deps{Records: recs, Blobs: &fakeBlobs{}}, testOptions())
	p := payload(nil)
	delete(p.Signatures, models.SignerInstaller)

	if _, err := o.Submit(context.Background(), p, nil); !errors.Is(err, ErrIncompletePayload) {
		t.Fatalf("err = %v", err)
	}
	if recs.calls != 0 {
		t.Error("record store called with one signature")
	}
}

func TestSubmitDocumentFailureIsSoft(t *testing.T) {
	recs := &fakeRecords{}
	docs := &fakeDocs{err: errors.New("renderer down")}
	o := New(Deps{Records: recs, Blobs: &fakeBlobs{}, Documents: docs}, testOptions())

	out, err := o.Submit(context.Background(), payload(assets("a1")), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.DocumentGenerationFailed || out.DocumentError == "" || len(out.FailedAssetIDs) != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.Contains(out.Warning(), "document") {
		t.Errorf("warning = %q", out.Warning())
	}
}

func TestBackFillKeyedByAssetID(t *testing.T) {
	recs := &fakeRecords{}
	blobs := &fakeBlobs{delay: map[string]time.Duration{"a1": 30 * time.Millisecond, "a2": 10 * time.Millisecond}}
	o := New(Deps{Records: recs, Blobs: blobs}, testOptions())

	out, err := o.Submit(context.Background(), payload(assets("a1", "a2", "a3")), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i, want := range []string{"a1", "a2", "a3"} {
		ref := recs.attached[i]
		if ref.AssetID != want {
			t.Fatalf("attached[%d] = %s, want %s", i, ref.AssetID, want)
		}
		if out.References[want] != ref.URL {
			t.Errorf("reference for %s = %s, attached %s", want, out.References[want], ref.URL)
		}
	}
}

func TestBackFillFailureMarksAssetFailed(t *testing.T) {
	recs := &fakeRecords{attachErr: map[string]error{"a2": errors.New("write conflict")}}
	o := New(Deps{Records: recs, Blobs: &fakeBlobs{}}, testOptions())
	sink := newSink()

	out, err := o.Submit(context.Background(), payload(assets("a1", "a2")), sink)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(out.FailedAssetIDs) != 1 || out.FailedAssetIDs[0] != "a2" {
		t.Fatalf("failed = %v", out.FailedAssetIDs)
	}
	if sink.states["a2"] != models.UploadFailed {
		t.Errorf("a2 state = %s", sink.states["a2"])
	}
}

func TestParallelismBounded(t *testing.T) {
	blobs := &fakeBlobs{delay: map[string]time.Duration{}}
	ids := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	for _, id := range ids {
		blobs.delay[id] = 5 * time.Millisecond
	}
	opts := testOptions()
	opts.Parallelism = 2
	o := New(Deps{Records: &fakeRecords{}, Blobs: blobs}, opts)

	if _, err := o.Submit(context.Background(), payload(assets(ids...)), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if blobs.peak > 2 {
		t.Errorf("peak concurrency %d, limit 2", blobs.peak)
	}
}

func TestSubmitDetachesWhenCallerLeaves(t *testing.T) {
	recs := &fakeRecords{}
	blobs := &fakeBlobs{block: make(chan struct{})}
	docs := &fakeDocs{}
	final := make(chan *Outcome, 1)
	opts := testOptions()
	opts.Detach = true
	opts.OnDetachedComplete = func(out *Outcome) { final <- out }
	o := New(Deps{Records: recs, Blobs: blobs, Documents: docs}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out, err := o.Submit(ctx, payload(assets("a1", "a2")), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.Detached || out.RecordID != "rec-1" {
		t.Fatalf("outcome = %+v", out)
	}

	close(blobs.block)
	select {
	case done := <-final:
		if len(done.References) != 2 || done.Partial() || !done.Detached {
			t.Errorf("detached outcome = %+v", done)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detached submission never completed")
	}
	if docs.count() != 1 {
		t.Errorf("document generated %d times", docs.count())
	}
}

func TestSubmitWorkOrder(t *testing.T) {
	recs := &fakeRecords{}
	blobs := &fakeBlobs{}
	o := New(Deps{Records: recs, Blobs: blobs, Sequence: &fakeSequence{}}, testOptions())
	p := &models.WorkOrderPayload{
		SubjectID: "s-9",
		Summary:   "Delivered two pallets",
		Signature: models.SignatureArtifact{Content: []byte("png")},
		Assets:    assets("w1"),
	}

	out, err := o.SubmitWorkOrder(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("SubmitWorkOrder: %v", err)
	}
	if out.Number != "WO-000001" || recs.orders[0].Number != "WO-000001" {
		t.Errorf("number = %q", out.Number)
	}
	if !strings.HasPrefix(blobs.puts[0], "work-orders/wo-1/") {
		t.Errorf("blob key = %s", blobs.puts[0])
	}
}

func TestRetryAssets(t *testing.T) {
	recs := &fakeRecords{}
	docs := &fakeDocs{}
	o := New(Deps{Records: recs, Blobs: &fakeBlobs{}, Documents: docs}, testOptions())

	out := o.RetryAssets(context.Background(), models.RecordKindCompletion, "rec-7", assets("a2"), nil)
	if out.Partial() || out.References["a2"] == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if recs.attached[0].RecordID != "rec-7" || docs.count() != 1 {
		t.Errorf("attached %+v, docs %d", recs.attached, docs.count())
	}
}
