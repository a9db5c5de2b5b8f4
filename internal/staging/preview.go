package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PreviewStore holds the locally renderable copy of a staged asset.
// Release must be safe to call for a reference that is already gone.
type PreviewStore interface {
	Put(id string, data []byte) (string, error)
	Open(ref string) ([]byte, error)
	Release(ref string) error
}

var ErrPreviewGone = errors.New("staging: preview released")

// DirPreviews writes previews as files below a directory.
type DirPreviews struct {
	dir string
}

func NewDirPreviews(dir string) (*DirPreviews, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: preview dir: %w", err)
	}
	return &DirPreviews{dir: dir}, nil
}

func (p *DirPreviews) Put(id string, data []byte) (string, error) {
	path := filepath.Join(p.dir, id+".preview")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("staging: write preview: %w", err)
	}
	return path, nil
}

func (p *DirPreviews) Open(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrPreviewGone
	}
	return data, err
}

func (p *DirPreviews) Release(ref string) error {
	err := os.Remove(ref)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemPreviews keeps previews in memory.
type MemPreviews struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemPreviews() *MemPreviews {
	return &MemPreviews{blobs: make(map[string][]byte)}
}

func (p *MemPreviews) Put(id string, data []byte) (string, error) {
	ref := "mem:" + id
	p.mu.Lock()
	p.blobs[ref] = data
	p.mu.Unlock()
	return ref, nil
}

func (p *MemPreviews) Open(ref string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.blobs[ref]
	if !ok {
		return nil, ErrPreviewGone
	}
	return data, nil
}

func (p *MemPreviews) Release(ref string) error {
	p.mu.Lock()
	delete(p.blobs, ref)
	p.mu.Unlock()
	return nil
}

// Len reports how many previews are held.
func (p *MemPreviews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blobs)
}
