package process_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
	"github.com/iansmith/mazkern/internal/vmem"
)

func newTestProcess(t *testing.T) (*process.Process, *collab.SimFrameAllocator) {
	t.Helper()
	alloc := collab.NewSimFrameAllocator(4096)
	mapper := collab.NewSimPageMapper()
	kernel, err := vmem.InitKernelVm(mapper, nil, alloc)
	require.NoError(t, err)

	pid := procid.New()
	vm, err := vmem.NewForSpawn(kernel.PageTable, alloc, pid)
	require.NoError(t, err)
	data := procdata.New(collab.NewBufConsole(&bytes.Buffer{}, &bytes.Buffer{}))

	return process.New(pid, "test", procid.KernelPid, vm, data, 0x1000), alloc
}

func TestSaveIgnoredWhenDead(t *testing.T) {
	p, alloc := newTestProcess(t)
	p.Inner.Kill(7, alloc)
	p.Inner.Save(process.RegisterFrame{ReturnValue: 99})
	v, ok := p.Inner.ExitCodeValue()
	require.True(t, ok)
	require.EqualValues(t, 7, v)
	require.NotEqual(t, int64(99), p.Inner.FrameSnapshot().ReturnValue)
}

func TestKillIsIdempotent(t *testing.T) {
	p, alloc := newTestProcess(t)
	p.Inner.Kill(1, alloc)
	p.Inner.Kill(2, alloc)
	v, _ := p.Inner.ExitCodeValue()
	require.EqualValues(t, 1, v)
}

func TestForkZeroesChildReturnValue(t *testing.T) {
	p, alloc := newTestProcess(t)
	p.Inner.SetReturnValue(123)

	childPid := procid.New()
	child, err := p.Fork(childPid, alloc)
	require.NoError(t, err)

	require.EqualValues(t, 0, child.Inner.Frame.ReturnValue)
	require.Equal(t, process.StatusReady, child.Inner.GetStatus())
	require.Contains(t, p.Inner.ChildrenSnapshot(), childPid)
}
