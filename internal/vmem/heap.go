package vmem

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procid"
)

// Heap is a process's brk-style program break: a fixed base, a hard
// upper bound, and an atomically-updated current end.
type Heap struct {
	mu  deadlock.Mutex
	pid procid.ProcessId
	end collab.VAddr
}

// Init sets the heap to its empty state (end == base).
func (h *Heap) Init(pid procid.ProcessId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pid = pid
	h.end = HeapBase
}

func pageRoundUp(addr collab.VAddr) collab.VAddr {
	return collab.PageOf(addr + collab.PageSize - 1)
}

// Brk is the sole mutator of the break. newEnd == nil returns the
// current end without mutating anything. A non-nil newEnd outside
// [base, hardEnd] fails without changing end; failures during mapping
// or unmapping likewise leave end unchanged.
func (h *Heap) Brk(newEnd *collab.VAddr, mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) (collab.VAddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if newEnd == nil {
		return h.end, true
	}
	ne := *newEnd
	if ne < HeapBase || ne > collab.VAddr(HeapHardEnd) {
		return 0, false
	}

	if ne == HeapBase {
		h.unmapRangeLocked(HeapBase, pageRoundUp(h.end), mapper, alloc, root)
		h.end = HeapBase
		return h.end, true
	}

	oldTop := pageRoundUp(h.end)
	newTop := pageRoundUp(ne)
	switch {
	case newTop == oldTop:
		// no page crossed; just move the byte-granular break
	case newTop > oldTop:
		if !h.mapRangeLocked(oldTop, newTop, mapper, alloc, root) {
			return 0, false
		}
	default:
		h.unmapRangeLocked(newTop, oldTop, mapper, alloc, root)
	}
	h.end = ne
	return h.end, true
}

func (h *Heap) mapRangeLocked(from, to collab.VAddr, mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) bool {
	mapped := make([]collab.Frame, 0, int((to-from)/collab.PageSize))
	for va := from; va < to; va += collab.PageSize {
		frame, err := alloc.AllocFrame()
		if err != nil {
			for _, f := range mapped {
				alloc.FreeFrame(f)
			}
			return false
		}
		if err := mapper.Map(root, va, frame, userFlags(h.pid)); err != nil {
			alloc.FreeFrame(frame)
			for _, f := range mapped {
				alloc.FreeFrame(f)
			}
			return false
		}
		mapped = append(mapped, frame)
	}
	return true
}

func (h *Heap) unmapRangeLocked(from, to collab.VAddr, mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) {
	for va := from; va < to; va += collab.PageSize {
		if frame, _, ok := mapper.Translate(root, va); ok {
			mapper.Unmap(root, va)
			alloc.FreeFrame(frame)
		}
	}
}

// End returns the current break without mutating state.
func (h *Heap) End() collab.VAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.end
}
