package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/noetl/noetl/internal/playbook"
)

// Catalog is the external collaborator spec.md §1 names as out of scope:
// "the core consumes fetch(path, version) -> playbook only". The broker
// depends only on this interface, never on a concrete catalog/storage
// implementation.
type Catalog interface {
	Fetch(ctx context.Context, path, version string) (*playbook.Playbook, error)
}

// MemoryCatalog is a Catalog for tests and for embedding a single fixed
// playbook without a network round trip.
type MemoryCatalog struct {
	mu   sync.RWMutex
	byPath map[string]*playbook.Playbook
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{byPath: map[string]*playbook.Playbook{}}
}

func (c *MemoryCatalog) Put(path string, pb *playbook.Playbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPath[path] = pb
}

func (c *MemoryCatalog) Fetch(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pb, ok := c.byPath[path]
	if !ok {
		return nil, fmt.Errorf("broker: catalog: no playbook at %q", path)
	}
	return pb, nil
}
