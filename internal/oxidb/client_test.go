package oxidb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parisxmas/fieldops/internal/oxidb"
	"github.com/parisxmas/fieldops/internal/oxidb/oxidbtest"
)

func getClient(t *testing.T) (*oxidb.Client, *oxidbtest.Server) {
	t.Helper()
	srv := oxidbtest.Start(t)
	host, port := srv.Addr()
	c, err := oxidb.Connect(host, port, 5*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestPing(t *testing.T) {
	c, _ := getClient(t)

	pong, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong != "pong" {
		t.Fatalf("expected pong, got %q", pong)
	}
}

func TestInsertAndFind(t *testing.T) {
	c, _ := getClient(t)
	ctx := context.Background()

	result, err := c.Insert(ctx, "go_test", map[string]any{"name": "Alice", "age": 30})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if result["id"] == nil {
		t.Fatal("insert did not return id")
	}

	docs, err := c.Find(ctx, "go_test", map[string]any{"name": "Alice"}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if docs[0]["name"] != "Alice" {
		t.Fatalf("expected Alice, got %v", docs[0]["name"])
	}

	missing, err := c.FindOne(ctx, "go_test", map[string]any{"name": "Nobody"})
	if err != nil {
		t.Fatalf("find_one: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %v", missing)
	}
}

func TestUniqueIndexReportsDuplicate(t *testing.T) {
	c, _ := getClient(t)
	ctx := context.Background()

	if err := c.CreateUniqueIndex(ctx, "go_test", "key"); err != nil {
		t.Fatalf("create unique index: %v", err)
	}
	if _, err := c.Insert(ctx, "go_test", map[string]any{"key": "a"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := c.Insert(ctx, "go_test", map[string]any{"key": "a"})
	if !oxidb.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestServerErrorCarriesCommand(t *testing.T) {
	c, srv := getClient(t)
	srv.FailNext("count", "collection locked")

	_, err := c.Count(context.Background(), "go_test", map[string]any{})
	var oxErr *oxidb.Error
	if !errors.As(err, &oxErr) {
		t.Fatalf("expected *oxidb.Error, got %T (%v)", err, err)
	}
	if oxErr.Cmd != "count" || oxErr.Msg != "collection locked" {
		t.Fatalf("unexpected error %+v", oxErr)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	c, _ := getClient(t)
	ctx := context.Background()

	if err := c.CreateBucket(ctx, "photos"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	payload := []byte{0xff, 0xd8, 0xff, 0x00, 0x01}
	if _, err := c.PutObject(ctx, "photos", "a.jpg", payload, "image/jpeg", nil); err != nil {
		t.Fatalf("put object: %v", err)
	}
	got, _, err := c.GetObject(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("blob mismatch: %v", got)
	}
}

func TestCancelledContextSkipsRequest(t *testing.T) {
	c, srv := getClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if srv.Requests("ping") != 0 {
		t.Fatal("request reached the server after cancellation")
	}
	if c.Broken() {
		t.Fatal("client marked broken without touching the stream")
	}
}
