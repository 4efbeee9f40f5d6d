package filestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrServiceNotFound = errors.New("filestore: service not in catalog")

// CatalogEntry is one "<id> <name>" line of the service catalog.
type CatalogEntry struct {
	ID   string
	Name string
}

// Catalog is the local list of orderable services.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	entries []CatalogEntry
}

// OpenCatalog reads path. A missing file yields an empty catalog that is created on first write.
func OpenCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: open catalog: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, name, _ := strings.Cut(line, " ")
		c.entries = append(c.entries, CatalogEntry{ID: id, Name: strings.TrimSpace(name)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("filestore: read catalog: %w", err)
	}
	return c, nil
}

// Name returns the display name of service id.
func (c *Catalog) Name(ctx context.Context, id string) (string, bool) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e.Name, true
		}
	}
	return "", false
}

func (c *Catalog) List(ctx context.Context) []CatalogEntry {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CatalogEntry(nil), c.entries...)
}

// Add inserts or renames a service and rewrites the file.
func (c *Catalog) Add(ctx context.Context, id, name string) error {
	_ = ctx
	if id == "" || strings.ContainsAny(id, " \n") {
		return fmt.Errorf("filestore: invalid service id %q", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := false
	for i := range c.entries {
		if c.entries[i].ID == id {
			c.entries[i].Name = name
			replaced = true
		}
	}
	if !replaced {
		c.entries = append(c.entries, CatalogEntry{ID: id, Name: name})
	}
	return c.flushLocked()
}

func (c *Catalog) Remove(ctx context.Context, id string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	found := false
	for _, e := range c.entries {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	if !found {
		return ErrServiceNotFound
	}
	return c.flushLocked()
}

func (c *Catalog) flushLocked() error {
	var b strings.Builder
	for _, e := range c.entries {
		b.WriteString(e.ID)
		b.WriteByte(' ')
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	if err := writeFileAtomic(c.path, []byte(b.String())); err != nil {
		return fmt.Errorf("%w: catalog: %w", ErrPersistence, err)
	}
	return nil
}
