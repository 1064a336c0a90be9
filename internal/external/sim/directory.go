package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DirectoryEntry is one registered raffle.
type DirectoryEntry struct {
	Instance       uuid.UUID
	Classification string
	Creator        uuid.UUID
}

// Directory is an append-only in-memory registry.
type Directory struct {
	mu      sync.Mutex
	entries []DirectoryEntry
	seen    map[uuid.UUID]bool
	failErr error
}

func NewDirectory() *Directory {
	return &Directory{seen: make(map[uuid.UUID]bool)}
}

// FailWith makes every subsequent Register return err (nil to recover).
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
}

func (d *Directory) Register(ctx context.Context, instance uuid.UUID, classification string, creator uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return d.failErr
	}
	if d.seen[instance] {
		return nil
	}
	d.seen[instance] = true
	d.entries = append(d.entries, DirectoryEntry{Instance: instance, Classification: classification, Creator: creator})
	return nil
}

// List returns a page of entries in registration order.
func (d *Directory) List(offset, limit int) []DirectoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset >= len(d.entries) {
		return nil
	}
	end := offset + limit
	if end > len(d.entries) {
		end = len(d.entries)
	}
	out := make([]DirectoryEntry, end-offset)
	copy(out, d.entries[offset:end])
	return out
}
