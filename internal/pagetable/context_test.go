package pagetable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/pagetable"
)

func TestCloneL4SharesKernelNotUser(t *testing.T) {
	alloc := collab.NewSimFrameAllocator(64)
	mapper := collab.NewSimPageMapper()

	kernel, err := pagetable.New(mapper, []collab.VAddr{0xFFFF_FF01_0000_0000}, alloc)
	require.NoError(t, err)

	child := kernel.CloneL4()

	userFrame, err := alloc.AllocFrame()
	require.NoError(t, err)
	require.NoError(t, mapper.Map(child.Root(), 0x2000_0000_0000, userFrame, collab.PTEFlags{Present: true, Writable: true, User: true}))

	// The child's user mapping must not leak into the parent kernel
	// context's address space.
	_, _, ok := mapper.Translate(kernel.Root(), 0x2000_0000_0000)
	require.False(t, ok)

	// But the kernel-half mapping installed by New is visible from the
	// cloned child, since clone_l4 shares the kernel half.
	_, _, ok = mapper.Translate(child.Root(), 0xFFFF_FF01_0000_0000)
	require.True(t, ok)
}

func TestForkDeepCopiesUserHalf(t *testing.T) {
	alloc := collab.NewSimFrameAllocator(64)
	mapper := collab.NewSimPageMapper()

	parent, err := pagetable.New(mapper, nil, alloc)
	require.NoError(t, err)

	frame, err := alloc.AllocFrame()
	require.NoError(t, err)
	copy(alloc.Bytes(frame), []byte("hello"))
	require.NoError(t, mapper.Map(parent.Root(), 0x2000_0000_0000, frame, collab.PTEFlags{Present: true, Writable: true, User: true}))

	child, err := parent.Fork(alloc)
	require.NoError(t, err)

	childFrame, _, ok := mapper.Translate(child.Root(), 0x2000_0000_0000)
	require.True(t, ok)
	require.NotEqual(t, frame, childFrame)
	require.Equal(t, alloc.Bytes(frame)[:5], alloc.Bytes(childFrame)[:5])

	// Mutating the parent's frame must not affect the child's copy.
	copy(alloc.Bytes(frame), []byte("wxyzz"))
	require.Equal(t, byte('h'), alloc.Bytes(childFrame)[0])
}
