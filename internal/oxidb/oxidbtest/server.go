// Package oxidbtest runs an in-process server speaking the oxidb wire protocol.
// It implements the subset of commands the repositories use and keeps
// everything in memory.
package oxidbtest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
)

type collection struct {
	nextID    int
	docs      []map[string]any
	unique    map[string]bool
	indexes   []map[string]any
	textIndex []string
}

type object struct {
	data        []byte
	contentType string
	metadata    map[string]any
}

// Server is a fake oxidb-server bound to a loopback port.
type Server struct {
	ln net.Listener

	mu          sync.Mutex
	collections map[string]*collection
	buckets     map[string]map[string]object
	failures    map[string][]string
	requests    map[string]int
	wg          sync.WaitGroup
}

// Start launches a server and registers its shutdown with t.Cleanup.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("oxidbtest: listen: %v", err)
	}
	s := &Server{
		ln:          ln,
		collections: make(map[string]*collection),
		buckets:     make(map[string]map[string]object),
		failures:    make(map[string][]string),
		requests:    make(map[string]int),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host and port to pass to oxidb.Connect.
func (s *Server) Addr() (string, int) {
	a := s.ln.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

// FailNext makes the next request for cmd return msg as a server error.
func (s *Server) FailNext(cmd, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[cmd] = append(s.failures[cmd], msg)
}

// Requests returns how many times cmd was received.
func (s *Server) Requests(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[cmd]
}

// Docs returns a copy of every document in a collection.
func (s *Server) Docs(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(c.docs))
	for i, d := range c.docs {
		out[i] = clone(d)
	}
	return out
}

// Object returns a stored blob.
func (s *Server) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.buckets[bucket][key]
	return o.data, ok
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		payload := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		var req map[string]any
		var resp map[string]any
		if err := json.Unmarshal(payload, &req); err != nil {
			resp = map[string]any{"ok": false, "error": "bad json"}
		} else {
			resp = s.dispatch(req)
		}
		out, _ := json.Marshal(resp)
		frame := make([]byte, 4+len(out))
		binary.LittleEndian.PutUint32(frame, uint32(len(out)))
		copy(frame[4:], out)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func fail(msg string) map[string]any { return map[string]any{"ok": false, "error": msg} }
func ok(data any) map[string]any     { return map[string]any{"ok": true, "data": data} }

func (s *Server) dispatch(req map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, _ := req["cmd"].(string)
	s.requests[cmd]++
	if queued := s.failures[cmd]; len(queued) > 0 {
		s.failures[cmd] = queued[1:]
		return fail(queued[0])
	}

	name, _ := req["collection"].(string)
	switch cmd {
	case "ping":
		return ok("pong")
	case "insert":
		doc, _ := req["doc"].(map[string]any)
		c := s.coll(name)
		for field := range c.unique {
			for _, d := range c.docs {
				if v, has := d[field]; has && v == doc[field] {
					return fail(fmt.Sprintf("duplicate key on unique index %s", field))
				}
			}
		}
		c.nextID++
		stored := clone(doc)
		stored["_id"] = float64(c.nextID)
		c.docs = append(c.docs, stored)
		return ok(map[string]any{"id": float64(c.nextID)})
	case "find":
		query, _ := req["query"].(map[string]any)
		docs := s.match(name, query)
		if sortSpec, has := req["sort"].(map[string]any); has {
			sortDocs(docs, sortSpec)
		}
		if skip, has := req["skip"].(float64); has {
			if int(skip) >= len(docs) {
				docs = nil
			} else {
				docs = docs[int(skip):]
			}
		}
		if limit, has := req["limit"].(float64); has && int(limit) < len(docs) {
			docs = docs[:int(limit)]
		}
		return ok(toAny(docs))
	case "find_one":
		query, _ := req["query"].(map[string]any)
		docs := s.match(name, query)
		if len(docs) == 0 {
			return ok(nil)
		}
		return ok(docs[0])
	case "update_one":
		query, _ := req["query"].(map[string]any)
		update, _ := req["update"].(map[string]any)
		c := s.coll(name)
		for _, d := range c.docs {
			if matches(d, query) {
				applyUpdate(d, update)
				return ok(map[string]any{"modified": float64(1)})
			}
		}
		return ok(map[string]any{"modified": float64(0)})
	case "count":
		query, _ := req["query"].(map[string]any)
		return ok(map[string]any{"count": float64(len(s.match(name, query)))})
	case "create_index", "create_unique_index":
		field, _ := req["field"].(string)
		c := s.coll(name)
		if cmd == "create_unique_index" {
			c.unique[field] = true
		}
		c.indexes = append(c.indexes, map[string]any{"field": field, "unique": cmd == "create_unique_index"})
		return ok("created")
	case "create_composite_index":
		c := s.coll(name)
		c.indexes = append(c.indexes, map[string]any{"fields": req["fields"]})
		return ok("created")
	case "create_text_index":
		c := s.coll(name)
		fields, _ := req["fields"].([]any)
		c.textIndex = c.textIndex[:0]
		for _, f := range fields {
			if fs, is := f.(string); is {
				c.textIndex = append(c.textIndex, fs)
			}
		}
		c.indexes = append(c.indexes, map[string]any{"text": req["fields"]})
		return ok("created")
	case "list_indexes":
		return ok(toAny(s.coll(name).indexes))
	case "text_search":
		query, _ := req["query"].(string)
		limit, _ := req["limit"].(float64)
		c := s.coll(name)
		var hits []map[string]any
		for _, d := range c.docs {
			if limit > 0 && len(hits) >= int(limit) {
				break
			}
			for _, f := range c.textIndex {
				if v, is := d[f].(string); is && strings.Contains(strings.ToLower(v), strings.ToLower(query)) {
					hits = append(hits, clone(d))
					break
				}
			}
		}
		return ok(toAny(hits))
	case "compact":
		c := s.coll(name)
		return ok(map[string]any{"docs_kept": float64(len(c.docs))})
	case "create_bucket":
		bucket, _ := req["bucket"].(string)
		if _, exists := s.buckets[bucket]; !exists {
			s.buckets[bucket] = make(map[string]object)
		}
		return ok("created")
	case "put_object":
		bucket, _ := req["bucket"].(string)
		key, _ := req["key"].(string)
		b, exists := s.buckets[bucket]
		if !exists {
			return fail("bucket not found: " + bucket)
		}
		raw, _ := req["data"].(string)
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fail("invalid base64")
		}
		ct, _ := req["content_type"].(string)
		meta, _ := req["metadata"].(map[string]any)
		b[key] = object{data: data, contentType: ct, metadata: meta}
		return ok(map[string]any{"key": key, "size": float64(len(data))})
	case "get_object":
		bucket, _ := req["bucket"].(string)
		key, _ := req["key"].(string)
		o, exists := s.buckets[bucket][key]
		if !exists {
			return fail("object not found: " + key)
		}
		return ok(map[string]any{
			"content":  base64.StdEncoding.EncodeToString(o.data),
			"metadata": map[string]any{"content_type": o.contentType},
		})
	case "delete_object":
		bucket, _ := req["bucket"].(string)
		key, _ := req["key"].(string)
		delete(s.buckets[bucket], key)
		return ok("deleted")
	}
	return fail("unknown command: " + cmd)
}

func (s *Server) coll(name string) *collection {
	c, exists := s.collections[name]
	if !exists {
		c = &collection{unique: make(map[string]bool)}
		s.collections[name] = c
	}
	return c
}

func (s *Server) match(name string, query map[string]any) []map[string]any {
	var out []map[string]any
	for _, d := range s.coll(name).docs {
		if matches(d, query) {
			out = append(out, clone(d))
		}
	}
	return out
}

func matches(doc, query map[string]any) bool {
	for k, want := range query {
		if doc[k] != want {
			return false
		}
	}
	return true
}

func applyUpdate(doc, update map[string]any) {
	if set, has := update["$set"].(map[string]any); has {
		for k, v := range set {
			doc[k] = v
		}
	}
	if inc, has := update["$inc"].(map[string]any); has {
		for k, v := range inc {
			cur, _ := doc[k].(float64)
			delta, _ := v.(float64)
			doc[k] = cur + delta
		}
	}
}

func sortDocs(docs []map[string]any, spec map[string]any) {
	for field, dir := range spec {
		desc := fmt.Sprint(dir) == "-1"
		sort.SliceStable(docs, func(i, j int) bool {
			a, b := fmt.Sprint(docs[i][field]), fmt.Sprint(docs[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}
}

func clone(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func toAny(docs []map[string]any) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}
