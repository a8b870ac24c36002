package vmem

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procid"
)

// Stack is a process's user stack slot: a contiguous, downward-growing
// page range [bottom, slotBase] within a fixed pid-indexed 4 GiB slot.
type Stack struct {
	mu       deadlock.Mutex
	pid      procid.ProcessId
	slotBase collab.VAddr // fixed top page of the slot, set at Init
	bottom   collab.VAddr // lowest currently mapped page
	usage    int
	inited   bool
}

func userFlags(pid procid.ProcessId) collab.PTEFlags {
	return collab.PTEFlags{Present: true, Writable: true, User: pid != procid.KernelPid, NoExec: true}
}

// Init maps the single default page of pid's stack slot and returns
// the usable stack top (slot base + page size - 8, leaving room for a
// return address). Panics if already initialized, per spec.md §4.C.
func (s *Stack) Init(mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot, pid procid.ProcessId) (collab.VAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		panic("vmem: stack already initialized")
	}

	base := SlotBase(uint16(pid))
	frame, err := alloc.AllocFrame()
	if err != nil {
		return 0, err
	}
	if err := mapper.Map(root, base, frame, userFlags(pid)); err != nil {
		alloc.FreeFrame(frame)
		return 0, err
	}

	s.pid = pid
	s.slotBase = base
	s.bottom = base
	s.usage = StackDefPages
	s.inited = true
	return base + collab.PageSize - 8, nil
}

// IsOnStack reports whether addr falls within this stack's slot.
func (s *Stack) IsOnStack(addr collab.VAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addr&stackStartMask == s.slotBase&stackStartMask
}

// HandlePageFault grows the stack to cover addr if addr lies within
// this slot, returning false (fatal, by convention of the caller) if
// it does not or growth fails.
func (s *Stack) HandlePageFault(addr collab.VAddr, mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr&stackStartMask != s.slotBase&stackStartMask {
		return false
	}
	return s.growLocked(addr, mapper, alloc, root)
}

func (s *Stack) growLocked(addr collab.VAddr, mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) bool {
	target := collab.PageOf(addr)
	for va := target; va < s.bottom; va += collab.PageSize {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return false
		}
		if err := mapper.Map(root, va, frame, userFlags(s.pid)); err != nil {
			alloc.FreeFrame(frame)
			return false
		}
		s.usage++
	}
	if target < s.bottom {
		s.bottom = target
	}
	return true
}

// Usage reports the number of currently mapped stack pages.
func (s *Stack) Usage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// CleanUp unmaps every currently mapped stack page; idempotent.
func (s *Stack) CleanUp(mapper collab.PageMapper, alloc collab.FrameAllocator, root collab.PageTableRoot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited {
		return
	}
	for va := s.bottom; va <= s.slotBase; va += collab.PageSize {
		if frame, _, ok := mapper.Translate(root, va); ok {
			mapper.Unmap(root, va)
			alloc.FreeFrame(frame)
		}
	}
	s.usage = 0
	s.inited = false
}

// Fork maps the same number of pages at the child pid's slot, probing
// downward a whole slot width at a time on collision, and byte-copies
// the parent's mapped stack contents into the child.
func (s *Stack) Fork(mapper collab.PageMapper, alloc collab.FrameAllocator, parentRoot, childRoot collab.PageTableRoot, childPid procid.ProcessId) (*Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := SlotBase(uint16(childPid))
	for {
		if _, _, ok := mapper.Translate(childRoot, base); !ok {
			break
		}
		base -= StackMaxSize
	}

	child := &Stack{pid: childPid, slotBase: base, bottom: base - (s.slotBase - s.bottom), usage: s.usage, inited: true}

	for va := s.bottom; va <= s.slotBase; va += collab.PageSize {
		parentFrame, _, ok := mapper.Translate(parentRoot, va)
		if !ok {
			continue
		}
		childVA := va - s.slotBase + base
		childFrame, err := alloc.AllocFrame()
		if err != nil {
			return nil, err
		}
		copy(alloc.Bytes(childFrame), alloc.Bytes(parentFrame))
		if err := mapper.Map(childRoot, childVA, childFrame, userFlags(childPid)); err != nil {
			alloc.FreeFrame(childFrame)
			return nil, err
		}
	}
	return child, nil
}

// AdjustStackPointer rewrites a saved stack pointer captured under
// oldBase so it points at the equivalent offset under newBase, keeping
// the pointer's low 32 bits (frame layout) and replacing the high
// bits (which slot it lives in), per spec.md §4.C fork().
func AdjustStackPointer(sp, oldBase, newBase collab.VAddr) collab.VAddr {
	const low32 = 0xFFFF_FFFF
	return (newBase &^ low32) | (sp & low32)
}
