// Package posfile implements the per-simple-index ordered position file:
// a sorted sequence of (key, localID, globalID) triples supporting binary
// location of an arbitrary query coordinate and bidirectional stepping
// from that point.
package posfile

import "sort"

// Entry is one (projected coordinate, point id) pair belonging to a
// simple index's position file. LocalID indexes the point within its
// level's subset; GlobalID indexes it in the full point set. The two
// coincide at the finest level.
type Entry struct {
	Key      float64
	LocalID  int
	GlobalID int
}

// PositionFile holds one simple index's entries, sorted ascending by Key.
type PositionFile struct {
	entries []Entry
}

// Build sorts keys (with their paired local/global ids) by Key and
// returns the resulting position file. The three slices must be the same
// length; entry i is (keys[i], localIDs[i], globalIDs[i]).
func Build(keys []float64, localIDs, globalIDs []int) *PositionFile {
	n := len(keys)
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = Entry{Key: keys[i], LocalID: localIDs[i], GlobalID: globalIDs[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return &PositionFile{entries: entries}
}

// Len returns the number of entries in the position file.
func (f *PositionFile) Len() int { return len(f.entries) }

// At returns the i-th entry in sorted order.
func (f *PositionFile) At(i int) Entry { return f.entries[i] }

// Sorted reports whether the position file's keys are monotone
// non-decreasing, the invariant the "sortedness" testable property
// checks directly.
func (f *PositionFile) Sorted() bool {
	for i := 1; i < len(f.entries); i++ {
		if f.entries[i].Key < f.entries[i-1].Key {
			return false
		}
	}
	return true
}

// Locate returns the smallest index i such that entries[i].Key >= q,
// i.e. the insertion point of q via binary search. It is len(entries)
// if q is larger than every key.
func (f *PositionFile) Locate(q float64) int {
	return sort.Search(len(f.entries), func(i int) bool { return f.entries[i].Key >= q })
}

// Direction is the direction an iterator advances: toward larger keys
// (Up) or smaller keys (Down).
type Direction int

const (
	Up Direction = iota
	Down
)

// Cursor walks a position file in one direction starting from an
// insertion point, one step at a time.
type Cursor struct {
	f   *PositionFile
	idx int
	dir Direction
}

// NewCursor returns a cursor over f starting just at-or-after start (Up)
// or just before start (Down), where start is typically the value
// returned by Locate for a query's projected coordinate.
func (f *PositionFile) NewCursor(start int, dir Direction) *Cursor {
	idx := start
	if dir == Down {
		idx = start - 1
	}
	return &Cursor{f: f, idx: idx, dir: dir}
}

// Peek returns the entry the cursor currently points at without
// advancing, and whether the cursor is still within bounds.
func (c *Cursor) Peek() (Entry, bool) {
	if c.idx < 0 || c.idx >= len(c.f.entries) {
		return Entry{}, false
	}
	return c.f.entries[c.idx], true
}

// Advance moves the cursor one step in its direction.
func (c *Cursor) Advance() {
	if c.dir == Up {
		c.idx++
	} else {
		c.idx--
	}
}
