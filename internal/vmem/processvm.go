package vmem

import (
	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/pagetable"
	"github.com/iansmith/mazkern/internal/procid"
)

// ProcessVm composes a PageTableContext with a Stack and Heap, per
// spec.md §4.E.
type ProcessVm struct {
	PageTable        *pagetable.Context
	Stack            *Stack
	Heap             *Heap
	CodeSegmentPages int
	scratchFrame     collab.Frame
}

// InitKernelVm builds the pid-1 kernel address space from the boot
// page set, consumed once at startup.
func InitKernelVm(mapper collab.PageMapper, kernelPages []collab.VAddr, alloc collab.FrameAllocator) (*ProcessVm, error) {
	pt, err := pagetable.New(mapper, kernelPages, alloc)
	if err != nil {
		return nil, err
	}
	vm := &ProcessVm{PageTable: pt, Stack: &Stack{}, Heap: &Heap{}}
	vm.Heap.Init(procid.KernelPid)
	if err := vm.mapScratch(alloc, procid.KernelPid); err != nil {
		return nil, err
	}
	return vm, nil
}

// NewForSpawn clones kernel-half mappings from kernelCtx and maps a
// fresh default stack, empty heap, and scratch page for the new pid.
func NewForSpawn(kernelCtx *pagetable.Context, alloc collab.FrameAllocator, pid procid.ProcessId) (*ProcessVm, error) {
	pt := kernelCtx.CloneL4()
	vm := &ProcessVm{PageTable: pt, Stack: &Stack{}, Heap: &Heap{}}
	vm.Heap.Init(pid)
	if _, err := vm.Stack.Init(pt.Mapper(), alloc, pt.Root(), pid); err != nil {
		return nil, err
	}
	if err := vm.mapScratch(alloc, pid); err != nil {
		return nil, err
	}
	return vm, nil
}

// mapScratch allocates and maps the one-page syscall-argument buffer
// at ScratchBase, user-writable and non-executable.
func (vm *ProcessVm) mapScratch(alloc collab.FrameAllocator, pid procid.ProcessId) error {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return err
	}
	flags := collab.PTEFlags{Present: true, Writable: true, User: pid != procid.KernelPid, NoExec: true}
	if err := vm.PageTable.Mapper().Map(vm.PageTable.Root(), ScratchBase, frame, flags); err != nil {
		alloc.FreeFrame(frame)
		return err
	}
	vm.scratchFrame = frame
	return nil
}

// Scratch returns the scratch page's address and backing bytes.
func (vm *ProcessVm) Scratch(alloc collab.FrameAllocator) (collab.VAddr, []byte) {
	return ScratchBase, alloc.Bytes(vm.scratchFrame)
}

// LoadELF maps the image's PT_LOAD segments into this vm's address
// space and records CodeSegmentPages, returning the entry point.
func (vm *ProcessVm) LoadELF(image []byte, loader collab.ElfLoader, alloc collab.FrameAllocator) (collab.VAddr, error) {
	entry, pages, err := loader.LoadSegments(image, vm.PageTable.Root(), vm.PageTable.Mapper(), alloc, true)
	if err != nil {
		return 0, err
	}
	vm.CodeSegmentPages = pages
	return entry, nil
}

// StackTop returns the usable stack pointer returned by the most
// recent Stack.Init call.
func (vm *ProcessVm) StackTop() collab.VAddr {
	return vm.Stack.slotBase + collab.PageSize - 8
}

// Fork forks the page table (deep-copying the user half), the stack
// (new slot, byte-copied contents), and carries the heap's current
// break forward unchanged, since the page-table fork already
// deep-copied every mapped heap page along with the rest of the user
// half.
func (vm *ProcessVm) Fork(alloc collab.FrameAllocator, childPid procid.ProcessId) (*ProcessVm, error) {
	childPT, err := vm.PageTable.Fork(alloc)
	if err != nil {
		return nil, err
	}
	childStack, err := vm.Stack.Fork(vm.PageTable.Mapper(), alloc, vm.PageTable.Root(), childPT.Root(), childPid)
	if err != nil {
		return nil, err
	}
	childHeap := &Heap{}
	childHeap.Init(childPid)
	childHeap.end = vm.Heap.End()

	child := &ProcessVm{PageTable: childPT, Stack: childStack, Heap: childHeap, CodeSegmentPages: vm.CodeSegmentPages}
	if err := child.mapScratch(alloc, childPid); err != nil {
		return nil, err
	}
	return child, nil
}

// HandlePageFault delegates to the stack, the only region that grows
// on demand.
func (vm *ProcessVm) HandlePageFault(addr collab.VAddr, alloc collab.FrameAllocator) bool {
	return vm.Stack.HandlePageFault(addr, vm.PageTable.Mapper(), alloc, vm.PageTable.Root())
}

// CleanUp releases every frame this vm's user half still holds:
// stack pages directly, and heap pages plus the page-table root
// itself via Release.
func (vm *ProcessVm) CleanUp(alloc collab.FrameAllocator) {
	mapper := vm.PageTable.Mapper()
	root := vm.PageTable.Root()
	vm.Stack.CleanUp(mapper, alloc, root)
	var zero collab.VAddr = HeapBase
	vm.Heap.Brk(&zero, mapper, alloc, root)
	if vm.scratchFrame != 0 {
		mapper.Unmap(root, ScratchBase)
		alloc.FreeFrame(vm.scratchFrame)
		vm.scratchFrame = 0
	}
	vm.PageTable.Release()
}
