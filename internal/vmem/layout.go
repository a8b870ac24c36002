// Package vmem implements the per-process stack and heap regions
// (spec components C and D) and ProcessVm (component E), which
// composes them with a PageTableContext.
package vmem

import "github.com/iansmith/mazkern/internal/collab"

const (
	// StackMax is the top of the highest pid's stack slot.
	StackMax collab.VAddr = 0x0000_4000_0000_0000
	// StackMaxSize is the size of a single pid's stack slot: 1,048,576
	// pages of 4 KiB each (4 GiB).
	StackMaxSize      = 0x100000 * collab.PageSize
	StackDefSize      = collab.PageSize
	StackDefPages     = 1
	stackStartMask    = ^collab.VAddr(StackMaxSize - 1)

	// HeapBase is the fixed base of every process's heap region.
	HeapBase collab.VAddr = 0x0000_2000_0000_0000
	// HeapHardEnd is the highest byte a brk() may ever extend to.
	HeapHardEnd = HeapBase + 0x100000*collab.PageSize - 8

	// ScratchBase is the one page every process gets mapped at spawn
	// time for marshalling syscall arguments (see collab.Syscaller.Scratch).
	// It sits well below HeapBase so it can never collide with a brk().
	ScratchBase collab.VAddr = 0x0000_1000_0000_0000
)

// SlotBase returns the base virtual address of pid's stack slot, per
// spec.md §3: STACK_MAX - (pid-1)*STACK_MAX_SIZE - STACK_DEF_SIZE.
func SlotBase(pid uint16) collab.VAddr {
	return StackMax - collab.VAddr(uint64(pid-1)*StackMaxSize) - StackDefSize
}
