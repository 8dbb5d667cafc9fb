package snapshot

import (
	"fmt"
	"sort"
	"sync"
)

// Buffer is an ordered, time-keyed collection of snapshots.
//
// Entries are strictly increasing by time. Insert discards every entry at or after
// the new time before appending, so re-sampling after a backward seek supersedes the
// stale forward data. Readers always receive copies.
type Buffer struct {
	mu    sync.RWMutex
	items []Snapshot
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Insert appends s, first discarding any entries with time >= s.Time().
// It returns how many entries were discarded.
func (b *Buffer) Insert(s Snapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cut := sort.Search(len(b.items), func(i int) bool {
		return b.items[i].time >= s.time
	})
	discarded := len(b.items) - cut

	clear(b.items[cut:])
	b.items = append(b.items[:cut], s)

	if cut > 0 && !(b.items[cut-1].time < s.time) {
		panic(fmt.Sprintf("snapshot: buffer order violated: %.2f before %.2f", b.items[cut-1].time, s.time))
	}
	return discarded
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.items = b.items[:0]
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// All returns a copy of every entry in time order.
func (b *Buffer) All() []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Snapshot, len(b.items))
	copy(out, b.items)
	return out
}

// UpTo returns a copy of the prefix with time <= t.
func (b *Buffer) UpTo(t float64) []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return UpTo(b.items, t)
}

// UpTo returns a copy of the prefix of an ordered slice with time <= t.
func UpTo(snaps []Snapshot, t float64) []Snapshot {
	n := sort.Search(len(snaps), func(i int) bool {
		return snaps[i].time > t
	})
	out := make([]Snapshot, n)
	copy(out, snaps[:n])
	return out
}
