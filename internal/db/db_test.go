package db

import (
	"context"
	"testing"

	"github.com/parisxmas/fieldops/internal/oxidb/oxidbtest"
)

func TestPoolRoundRobin(t *testing.T) {
	srv := oxidbtest.Start(t)
	host, port := srv.Addr()

	p, err := NewPool(host, port, 3)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close()

	seen := map[any]bool{}
	for i := 0; i < 3; i++ {
		seen[p.Get()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct clients, got %d", len(seen))
	}
}

func TestPoolReplacesBrokenClient(t *testing.T) {
	srv := oxidbtest.Start(t)
	host, port := srv.Addr()

	p, err := NewPool(host, port, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close()

	first := p.Get()
	first.Close()
	// A failed write on a closed connection marks the client broken.
	if _, err := first.Ping(context.Background()); err == nil {
		t.Fatal("expected ping on closed client to fail")
	}

	second := p.Get()
	if second == first {
		t.Fatal("broken client was handed out again")
	}
	if _, err := second.Ping(context.Background()); err != nil {
		t.Fatalf("ping on replacement: %v", err)
	}
}

func TestOpenSequenceDBMigrates(t *testing.T) {
	conn, err := OpenSequenceDB(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var n int
	if err := conn.Get(&n, "SELECT COUNT(*) FROM code_sequences"); err != nil {
		t.Fatalf("query: %v", err)
	}
}
