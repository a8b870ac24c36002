package sched_test

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/manager"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
	"github.com/iansmith/mazkern/internal/sched"
	"github.com/iansmith/mazkern/internal/syscallapi"
	"github.com/iansmith/mazkern/internal/vmem"
)

type fixture struct {
	mgr   *manager.ProcessManager
	sched *sched.Scheduler
}

func newFixture(t *testing.T, apps []collab.AppEntry) *fixture {
	t.Helper()
	alloc := collab.NewSimFrameAllocator(8192)
	mapper := collab.NewSimPageMapper()
	kernelVm, err := vmem.InitKernelVm(mapper, nil, alloc)
	require.NoError(t, err)

	console := collab.NewBufConsole(&bytes.Buffer{}, &bytes.Buffer{})
	kernelData := procdata.New(console)
	kernel := process.New(procid.KernelPid, "kernel", 0, kernelVm, kernelData, 0)

	log := logrus.NewEntry(logrus.New())
	mgr := manager.New(kernel, apps, mapper, collab.ELFLoader{}, collab.NewMemFS(), console, collab.SystemClock{}, alloc, log)
	s := sched.New(mgr, log)
	h := syscallapi.New(mgr, s, log)
	s.SetSyscaller(h)
	return &fixture{mgr: mgr, sched: s}
}

func TestScheduledProgramRunsToExitAndRecordsCode(t *testing.T) {
	ran := false
	program := func(sc collab.Syscaller) int64 {
		ran = true
		return sc.Syscall(int64(syscallapi.SysExit), [3]int64{7, 0, 0})
	}
	f := newFixture(t, []collab.AppEntry{{Name: "app", ELF: collab.NewTrivialImage(0x40_0000), Program: program}})

	pid, err := f.sched.SpawnApp("app", procid.KernelPid, nil)
	require.NoError(t, err)

	f.sched.Run()

	require.True(t, ran)
	code, ok := f.mgr.GetExitCode(pid)
	require.True(t, ok)
	require.EqualValues(t, 7, code)
}

func TestForkedChildGetsOwnExitCode(t *testing.T) {
	// The forked child's goroutine re-enters this same closure from the
	// top (see DESIGN.md's fork-continuation note: Go cannot duplicate a
	// goroutine's call stack the way a real fork() duplicates a process).
	// didFork guards against the child forking again: it is set by the
	// original goroutine before the real fork happens, so by the time
	// the child's goroutine evaluates the same closure it takes the
	// child branch directly instead of calling Fork a second time.
	var didFork int32
	program := func(sc collab.Syscaller) int64 {
		if !atomic.CompareAndSwapInt32(&didFork, 0, 1) {
			return 0 // child
		}
		ret := sc.Syscall(int64(syscallapi.SysFork), [3]int64{0, 0, 0})
		// parent: wait for the child, then exit with its code plus 100.
		childCode := sc.Syscall(int64(syscallapi.SysWaitPid), [3]int64{ret, 0, 0})
		return childCode + 100
	}
	f := newFixture(t, []collab.AppEntry{{Name: "app", ELF: collab.NewTrivialImage(0x40_0000), Program: program}})

	pid, err := f.sched.SpawnApp("app", procid.KernelPid, nil)
	require.NoError(t, err)

	f.sched.Run()

	code, ok := f.mgr.GetExitCode(pid)
	require.True(t, ok)
	require.EqualValues(t, 100, code)
}
