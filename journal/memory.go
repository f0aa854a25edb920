package journal

import (
	"context"
	"sync"
)

const defaultCapacity = 100

// MemoryJournal is a fixed-size ring buffer. Once full, the oldest entry is
// overwritten.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewMemoryJournal creates a MemoryJournal holding up to capacity entries.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryJournal{entries: make([]Entry, capacity)}
}

func (j *MemoryJournal) Record(ctx context.Context, entry Entry) error {
	entry = prepare(entry)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = entry
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	return nil
}

func (j *MemoryJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	size := j.next
	if j.full {
		size = len(j.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (j.next - i + len(j.entries)) % len(j.entries)
		out = append(out, j.entries[idx])
	}
	return out, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}
