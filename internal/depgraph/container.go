package depgraph

import (
	"fmt"
	"sort"

	"github.com/parallux/depengine/pkg/region"
)

// Entry is one (region, payload) slot of a Container. Payload is expected to
// be a pointer type so that identity survives container reshuffling; the
// *Entry handed to callbacks must not be retained past the callback call,
// since a subsequent Insert or fragmentation can reslice the backing array.
type Entry[T any] struct {
	Region  region.Region
	Payload T
}

// Regioned is the constraint a Container's payload type must satisfy so
// fragmentation can keep the payload's own notion of its region (e.g.
// DataAccess.region) in sync with the Entry.Region that indexes it. Both
// DataAccess and BottomMapEntry implement it.
type Regioned interface {
	setRegion(region.Region)
}

// Container is an ordered map from pairwise non-overlapping regions to
// payloads, keyed by region start address. It backs both a task's declared
// access set and a parent's subaccess bottom map.
//
// The entries are held in a single address-sorted slice rather than a
// balanced tree. Lookups are O(log n) via binary search; fragmentation and
// insertion are O(k + log n) for k touched entries, which meets the
// fragmentation budget even though a single insert in the middle of a large,
// densely fragmented region can cost an O(n) slice shift. No third-party
// ordered-map or interval-tree library ships in the dependency corpus this
// module was grounded on, so this container is hand-rolled against the
// standard library's sort package.
type Container[T Regioned] struct {
	entries []Entry[T]
}

// NewContainer returns an empty region-indexed container.
func NewContainer[T Regioned]() *Container[T] {
	return &Container[T]{}
}

// Len returns the number of entries currently stored.
func (c *Container[T]) Len() int {
	return len(c.entries)
}

// Entries returns the entries in address order. The returned slice aliases
// the container's storage and must be treated as read-only by the caller.
func (c *Container[T]) Entries() []Entry[T] {
	return c.entries
}

// firstOverlapIndex returns the index of the first entry whose region could
// overlap q, i.e. the first entry with End() > q.Start.
func (c *Container[T]) firstOverlapIndex(q region.Region) int {
	return sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Region.End() > q.Start
	})
}

// insertionIndex returns where a region starting at start should be spliced
// to keep entries sorted by start address.
func (c *Container[T]) insertionIndex(start uintptr) int {
	return sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Region.Start >= start
	})
}

// Insert adds a new (region, payload) pair. The caller must guarantee region
// does not overlap any existing entry.
func (c *Container[T]) Insert(r region.Region, payload T) {
	idx := c.insertionIndex(r.Start)
	c.entries = append(c.entries, Entry[T]{})
	copy(c.entries[idx+1:], c.entries[idx:])
	c.entries[idx] = Entry[T]{Region: r, Payload: payload}
}

// removeAt deletes the entry at idx.
func (c *Container[T]) removeAt(idx int) {
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
}

// Remove deletes the entry whose region equals r exactly and returns its
// payload. It is a no-op if no such entry exists.
func (c *Container[T]) Remove(r region.Region) (T, bool) {
	idx := c.firstOverlapIndex(r)
	if idx < len(c.entries) && c.entries[idx].Region.Equal(r) {
		payload := c.entries[idx].Payload
		c.removeAt(idx)
		return payload, true
	}
	var zero T
	return zero, false
}

// IndexContaining returns the index of the entry covering point p, if any.
func (c *Container[T]) IndexContaining(p uintptr) (int, bool) {
	idx := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Region.End() > p
	})
	if idx < len(c.entries) && c.entries[idx].Region.ContainsPoint(p) {
		return idx, true
	}
	return 0, false
}

// EntryAt returns a pointer to the entry at idx. As with every *Entry this
// package hands out, it must not be retained past the next container
// mutation.
func (c *Container[T]) EntryAt(idx int) *Entry[T] {
	return &c.entries[idx]
}

// splitBounds returns the ascending, de-duplicated boundary points obtained
// by cutting e at q's start and end, wherever those fall strictly inside e.
func splitBounds(e, q region.Region) []uintptr {
	bounds := []uintptr{e.Start}
	if q.Start > e.Start && q.Start < e.End() {
		bounds = append(bounds, q.Start)
	}
	if q.End() > e.Start && q.End() < e.End() {
		bounds = append(bounds, q.End())
	}
	bounds = append(bounds, e.End())
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })
	out := bounds[:1]
	for _, b := range bounds[1:] {
		if b != out[len(out)-1] {
			out = append(out, b)
		}
	}
	return out
}

// FragmentIntersecting splits every entry crossing q's start or end boundary
// into aligned pieces. dup clones the payload for every piece after the
// first; the first piece keeps the original payload identity. Entries that
// already align with q are left untouched (no fragmentation event fires for
// them), matching the "no fragmentation on exact match" boundary case.
func (c *Container[T]) FragmentIntersecting(q region.Region, dup func(T) T) {
	idx := c.firstOverlapIndex(q)
	for idx < len(c.entries) && c.entries[idx].Region.Start < q.End() {
		e := c.entries[idx]
		bounds := splitBounds(e.Region, q)
		if len(bounds) <= 2 {
			idx++
			continue
		}
		pieces := make([]Entry[T], 0, len(bounds)-1)
		for i := 0; i+1 < len(bounds); i++ {
			sub := region.FromBounds(bounds[i], bounds[i+1])
			var payload T
			if i == 0 {
				payload = e.Payload
			} else {
				payload = dup(e.Payload)
			}
			payload.setRegion(sub)
			pieces = append(pieces, Entry[T]{Region: sub, Payload: payload})
		}
		c.entries = append(c.entries[:idx], append(pieces, c.entries[idx+1:]...)...)
		idx += len(pieces)
	}
}

// FragmentByIntersection fragments the entry at idx so that exactly one
// resulting piece equals entries[idx].Region ∩ q, and returns the index of
// that piece. idx must reference an entry that intersects q.
func (c *Container[T]) FragmentByIntersection(idx int, q region.Region, dup func(T) T) int {
	e := c.entries[idx]
	inter, ok := e.Region.Intersection(q)
	if !ok {
		panic(fmt.Sprintf("depgraph: FragmentByIntersection: %v does not intersect %v", e.Region, q))
	}
	if inter.Equal(e.Region) {
		return idx
	}
	bounds := splitBounds(e.Region, inter)
	pieces := make([]Entry[T], 0, len(bounds)-1)
	hitOffset := -1
	for i := 0; i+1 < len(bounds); i++ {
		sub := region.FromBounds(bounds[i], bounds[i+1])
		var payload T
		if i == 0 {
			payload = e.Payload
		} else {
			payload = dup(e.Payload)
		}
		payload.setRegion(sub)
		pieces = append(pieces, Entry[T]{Region: sub, Payload: payload})
		if sub.Equal(inter) {
			hitOffset = i
		}
	}
	c.entries = append(c.entries[:idx], append(pieces, c.entries[idx+1:]...)...)
	return idx + hitOffset
}

// ProcessIntersecting invokes f on every entry overlapping q, in address
// order, stopping early if f returns false.
func (c *Container[T]) ProcessIntersecting(q region.Region, f func(idx int, e *Entry[T]) bool) {
	idx := c.firstOverlapIndex(q)
	for idx < len(c.entries) && c.entries[idx].Region.Start < q.End() {
		if !f(idx, &c.entries[idx]) {
			return
		}
		idx++
	}
}

// ProcessIntersectingWithRecentAdditions behaves like ProcessIntersecting,
// but re-reads the slice length after every callback so that entries
// inserted by f itself (e.g. via the Miss path of
// ProcessIntersectingAndMissing) are also visited.
func (c *Container[T]) ProcessIntersectingWithRecentAdditions(q region.Region, f func(idx int, e *Entry[T]) bool) {
	idx := c.firstOverlapIndex(q)
	for idx < len(c.entries) && c.entries[idx].Region.Start < q.End() {
		before := len(c.entries)
		current := c.entries[idx].Region.Start
		if !f(idx, &c.entries[idx]) {
			return
		}
		if len(c.entries) > before {
			// f grew the container; re-derive idx from the (possibly shifted)
			// current entry rather than trusting the stale index.
			idx = c.insertionIndex(current)
		}
		idx++
	}
}

// ProcessIntersectingAndMissing fragments entries to q's boundaries as it
// goes, calling onHit for each covered sub-region (after fragmentation) and
// onGap for each sub-region of q not covered by any entry. Both callbacks
// return false to stop the walk early once it fires for a gap; onHit
// stopping early via false skips reporting the remaining gaps too so the
// caller can treat it like ProcessIntersecting's pure early-exit.
func (c *Container[T]) ProcessIntersectingAndMissing(
	q region.Region,
	dup func(T) T,
	onHit func(idx int, e *Entry[T]) bool,
	onGap func(gap region.Region) bool,
) {
	c.FragmentIntersecting(q, dup)

	cursor := q.Start
	idx := c.firstOverlapIndex(q)
	for idx < len(c.entries) && c.entries[idx].Region.Start < q.End() {
		e := &c.entries[idx]
		if e.Region.Start > cursor {
			if !onGap(region.FromBounds(cursor, e.Region.Start)) {
				return
			}
		}
		if !onHit(idx, e) {
			return
		}
		cursor = e.Region.End()
		idx++
	}
	if cursor < q.End() {
		onGap(region.FromBounds(cursor, q.End()))
	}
}
