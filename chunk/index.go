package chunk

import "sort"

// Index owns the ordered list of chunks that still have to be read and sent, and the
// set of chunks the server reported as already stored (skipped).
// It is not safe for concurrent use; the upload session serializes access.
type Index struct {
	layout  Layout
	pending []int
	skipped map[int]struct{}

	chunksNeedSend int
	sizeNeedSend   int64
}

// NewIndex returns an Index with every chunk of the layout pending.
func NewIndex(layout Layout) *Index {
	x := &Index{layout: layout}
	x.Reset()
	return x
}

// Reset puts every chunk back to pending, in ascending order, and forgets the
// skipped set.
func (x *Index) Reset() {
	total := x.layout.TotalChunks()
	x.pending = make([]int, total)
	for i := range x.pending {
		x.pending[i] = i
	}
	x.skipped = map[int]struct{}{}
	x.chunksNeedSend = total
	x.sizeNeedSend = x.layout.Size
}

// ApplyResumeSet marks the given chunks as already stored on the server. They are
// removed from the pending list and excluded from the send counters.
// Out of range and duplicate indices are ignored.
func (x *Index) ApplyResumeSet(confirmed []int) {
	for _, i := range confirmed {
		if !x.layout.Contains(i) {
			continue
		}
		x.skipped[i] = struct{}{}
	}

	kept := x.pending[:0]
	for _, i := range x.pending {
		if _, ok := x.skipped[i]; !ok {
			kept = append(kept, i)
		}
	}
	x.pending = kept
	x.recount()
}

func (x *Index) recount() {
	x.chunksNeedSend = x.layout.TotalChunks() - len(x.skipped)
	x.sizeNeedSend = x.layout.Size
	for i := range x.skipped {
		x.sizeNeedSend -= x.layout.Length(i)
	}
}

// TakeNextPending removes and returns up to count indices from the front of the
// pending list.
func (x *Index) TakeNextPending(count int) []int {
	if count <= 0 || len(x.pending) == 0 {
		return nil
	}
	if count > len(x.pending) {
		count = len(x.pending)
	}
	taken := make([]int, count)
	copy(taken, x.pending[:count])
	x.pending = x.pending[count:]
	return taken
}

// Requeue puts chunks back into the pending list, keeping it in ascending order.
// Skipped chunks and chunks that are already pending are ignored.
func (x *Index) Requeue(indices ...int) {
	changed := false
	for _, i := range indices {
		if !x.layout.Contains(i) || x.IsSkipped(i) || x.isPending(i) {
			continue
		}
		x.pending = append(x.pending, i)
		changed = true
	}
	if changed {
		sort.Ints(x.pending)
	}
}

// Remove drops chunks from the pending list without marking them skipped. It is used
// when the bytes of a chunk were obtained some other way, e.g. while hashing.
func (x *Index) Remove(indices ...int) {
	drop := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		drop[i] = struct{}{}
	}
	kept := x.pending[:0]
	for _, i := range x.pending {
		if _, ok := drop[i]; !ok {
			kept = append(kept, i)
		}
	}
	x.pending = kept
}

func (x *Index) isPending(index int) bool {
	for _, i := range x.pending {
		if i == index {
			return true
		}
	}
	return false
}

// IsSkipped reports whether the server already stores the chunk.
func (x *Index) IsSkipped(index int) bool {
	_, ok := x.skipped[index]
	return ok
}

// Pending returns a copy of the pending list.
func (x *Index) Pending() []int {
	out := make([]int, len(x.pending))
	copy(out, x.pending)
	return out
}

// PendingLen returns the number of chunks waiting to be read.
func (x *Index) PendingLen() int {
	return len(x.pending)
}

// Skipped returns the skipped indices in ascending order.
func (x *Index) Skipped() []int {
	out := make([]int, 0, len(x.skipped))
	for i := range x.skipped {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// ChunksNeedSend is the number of chunks this session has to upload.
func (x *Index) ChunksNeedSend() int {
	return x.chunksNeedSend
}

// SizeNeedSend is the number of bytes this session has to upload.
func (x *Index) SizeNeedSend() int64 {
	return x.sizeNeedSend
}
