// Package region implements the half-open byte-interval algebra that the
// dependency engine uses as ground truth for all happens-before reasoning.
//
// A Region is the interval [Start, Start+Length) over a flat address space.
// Regions never carry negative lengths and every operation here is a pure
// function of its inputs: the package holds no state of its own.
package region

import "fmt"

// Region is a half-open byte interval [Start, Start+Length).
type Region struct {
	Start  uintptr
	Length uintptr
}

// New returns the region [start, start+length).
func New(start, length uintptr) Region {
	return Region{Start: start, Length: length}
}

// FromBounds returns the region [start, end). Panics if end < start.
func FromBounds(start, end uintptr) Region {
	if end < start {
		panic(fmt.Sprintf("region: invalid bounds [%d, %d)", start, end))
	}
	return Region{Start: start, Length: end - start}
}

// End returns the exclusive upper bound of the region.
func (r Region) End() uintptr {
	return r.Start + r.Length
}

// Empty reports whether the region covers zero bytes.
func (r Region) Empty() bool {
	return r.Length == 0
}

// Contains reports whether other is fully covered by r.
func (r Region) Contains(other Region) bool {
	if other.Empty() {
		return other.Start >= r.Start && other.Start <= r.End()
	}
	return other.Start >= r.Start && other.End() <= r.End()
}

// ContainsPoint reports whether p falls within r.
func (r Region) ContainsPoint(p uintptr) bool {
	return p >= r.Start && p < r.End()
}

// Intersects reports whether r and other share at least one byte.
func (r Region) Intersects(other Region) bool {
	if r.Empty() || other.Empty() {
		return false
	}
	return r.Start < other.End() && other.Start < r.End()
}

// Intersection returns the overlapping sub-region of r and other, and
// whether the two regions overlap at all.
func (r Region) Intersection(other Region) (Region, bool) {
	if !r.Intersects(other) {
		return Region{}, false
	}
	start := r.Start
	if other.Start > start {
		start = other.Start
	}
	end := r.End()
	if other.End() < end {
		end = other.End()
	}
	return FromBounds(start, end), true
}

// Contiguous reports whether the union of r and other is itself a single
// interval, i.e. the two regions overlap or touch end-to-end.
func (r Region) Contiguous(other Region) bool {
	if r.Empty() || other.Empty() {
		return false
	}
	return r.Start <= other.End() && other.Start <= r.End()
}

// Union returns the smallest region covering both r and other. Callers
// must ensure Contiguous(other) holds, or the result silently spans the
// gap between them.
func (r Region) Union(other Region) Region {
	start := r.Start
	if other.Start < start {
		start = other.Start
	}
	end := r.End()
	if other.End() > end {
		end = other.End()
	}
	return FromBounds(start, end)
}

// Subtract removes other from r, returning zero, one, or two disjoint
// remainder regions in increasing address order.
func (r Region) Subtract(other Region) []Region {
	inter, ok := r.Intersection(other)
	if !ok {
		return []Region{r}
	}
	var out []Region
	if inter.Start > r.Start {
		out = append(out, FromBounds(r.Start, inter.Start))
	}
	if inter.End() < r.End() {
		out = append(out, FromBounds(inter.End(), r.End()))
	}
	return out
}

// Equal reports whether r and other cover exactly the same bytes.
func (r Region) Equal(other Region) bool {
	return r.Start == other.Start && r.Length == other.Length
}

// Less orders regions by start address, then length; it gives the
// region-indexed container a total order to keep its entries sorted by.
func (r Region) Less(other Region) bool {
	if r.Start != other.Start {
		return r.Start < other.Start
	}
	return r.Length < other.Length
}

// String renders the region as "[start, end)" for diagnostics.
func (r Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End())
}
