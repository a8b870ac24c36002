package syscallapi_test

import (
	"bytes"
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
	mgr     *manager.ProcessManager
	sched   *sched.Scheduler
	fs      *collab.MemFS
	console *collab.BufConsole
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

	fs := collab.NewMemFS()
	log := logrus.NewEntry(logrus.New())
	mgr := manager.New(kernel, apps, mapper, collab.ELFLoader{}, fs, console, collab.SystemClock{}, alloc, log)
	s := sched.New(mgr, log)
	h := syscallapi.New(mgr, s, log)
	s.SetSyscaller(h)
	return &fixture{mgr: mgr, sched: s, fs: fs, console: console}
}

func runOne(t *testing.T, program collab.ProgramFunc) *fixture {
	t.Helper()
	f := newFixture(t, []collab.AppEntry{{Name: "app", ELF: collab.NewTrivialImage(0x40_0000), Program: program}})
	_, err := f.sched.SpawnApp("app", procid.KernelPid, nil)
	require.NoError(t, err)
	f.sched.Run()
	return f
}

func TestWriteGoesThroughScratchToConsoleStdout(t *testing.T) {
	program := func(sc collab.Syscaller) int64 {
		ptr, buf := sc.Scratch()
		n := copy(buf, "hello")
		ret := sc.Syscall(int64(syscallapi.SysWrite), [3]int64{1, int64(ptr), int64(n)})
		return ret
	}
	f := runOne(t, program)
	require.Equal(t, "hello", f.console.Stdout.(*bytes.Buffer).String())
}

func TestOpenReadCloseRoundTripsThroughFilesystem(t *testing.T) {
	var readBack string
	program := func(sc collab.Syscaller) int64 {
		pathPtr, pathBuf := sc.Scratch()
		copy(pathBuf, "/greeting.txt")
		fd := sc.Syscall(int64(syscallapi.SysOpen), [3]int64{int64(pathPtr), 0, 0})
		if fd < 0 {
			return -1
		}
		outPtr, outBuf := sc.Scratch()
		n := sc.Syscall(int64(syscallapi.SysRead), [3]int64{fd, int64(outPtr), int64(len(outBuf))})
		if n > 0 {
			readBack = string(outBuf[:n])
		}
		sc.Syscall(int64(syscallapi.SysClose), [3]int64{fd, 0, 0})
		return 0
	}
	f := newFixture(t, []collab.AppEntry{{Name: "app", ELF: collab.NewTrivialImage(0x40_0000), Program: program}})
	f.fs.AddFile("/greeting.txt", []byte("hi there"))
	_, err := f.sched.SpawnApp("app", procid.KernelPid, nil)
	require.NoError(t, err)
	f.sched.Run()

	require.Equal(t, "hi there", readBack)
}

func TestBrkGrowsThenShrinksHeapEnd(t *testing.T) {
	var grown, shrunk int64
	program := func(sc collab.Syscaller) int64 {
		base := sc.Syscall(int64(syscallapi.SysBrk), [3]int64{0, 0, 0})
		grown = sc.Syscall(int64(syscallapi.SysBrk), [3]int64{base + 4096, 0, 0})
		shrunk = sc.Syscall(int64(syscallapi.SysBrk), [3]int64{base, 0, 0})
		return 0
	}
	runOne(t, program)
	require.Greater(t, grown, int64(0))
	require.Less(t, shrunk, grown)
}

func TestSemInsertWaitSignalRoundTrip(t *testing.T) {
	var waitResult, insertResult, signalResult int64
	program := func(sc collab.Syscaller) int64 {
		insertResult = sc.Syscall(int64(syscallapi.SysSemInsert), [3]int64{1, 1, 0})
		waitResult = sc.Syscall(int64(syscallapi.SysSemWait), [3]int64{1, 0, 0})
		signalResult = sc.Syscall(int64(syscallapi.SysSemSignal), [3]int64{1, 0, 0})
		return 0
	}
	runOne(t, program)
	require.EqualValues(t, 0, insertResult)
	require.EqualValues(t, 0, waitResult)
	require.EqualValues(t, 0, signalResult)
}

func TestSemWaitBlocksUntilAnotherProcessSignals(t *testing.T) {
	var consumerWoke bool
	consumer := func(sc collab.Syscaller) int64 {
		sc.Syscall(int64(syscallapi.SysSemInsert), [3]int64{9, 0, 0})
		sc.Syscall(int64(syscallapi.SysSemWait), [3]int64{9, 0, 0})
		consumerWoke = true
		return 0
	}
	producer := func(sc collab.Syscaller) int64 {
		sc.Syscall(int64(syscallapi.SysSemSignal), [3]int64{9, 0, 0})
		return 0
	}
	f := newFixture(t, []collab.AppEntry{
		{Name: "consumer", ELF: collab.NewTrivialImage(0x40_0000), Program: consumer},
		{Name: "producer", ELF: collab.NewTrivialImage(0x40_0000), Program: producer},
	})
	_, err := f.sched.SpawnApp("consumer", procid.KernelPid, nil)
	require.NoError(t, err)
	_, err = f.sched.SpawnApp("producer", procid.KernelPid, nil)
	require.NoError(t, err)
	f.sched.Run()

	require.True(t, consumerWoke)
}

func TestGetPidAndGetParentPidReportRealLineage(t *testing.T) {
	var pid, ppid int64
	program := func(sc collab.Syscaller) int64 {
		pid = sc.Syscall(int64(syscallapi.SysGetPid), [3]int64{0, 0, 0})
		ppid = sc.Syscall(int64(syscallapi.SysGetParentPid), [3]int64{0, 0, 0})
		return 0
	}
	f := runOne(t, program)
	require.EqualValues(t, procid.KernelPid, ppid)
	require.NotEqualValues(t, procid.KernelPid, pid)
	_ = f
}

func TestListDirReturnsJoinedEntryNames(t *testing.T) {
	var listing string
	program := func(sc collab.Syscaller) int64 {
		pathPtr, pathBuf := sc.Scratch()
		copy(pathBuf, "/")
		outPtr, outBuf := sc.Scratch()
		n := sc.Syscall(int64(syscallapi.SysListDir), [3]int64{int64(pathPtr), int64(outPtr), int64(len(outBuf))})
		if n > 0 {
			listing = string(outBuf[:n])
		}
		return 0
	}
	f := newFixture(t, []collab.AppEntry{{Name: "app", ELF: collab.NewTrivialImage(0x40_0000), Program: program}})
	f.fs.AddFile("/a.txt", []byte("a"))
	f.fs.AddFile("/b.txt", []byte("b"))
	_, err := f.sched.SpawnApp("app", procid.KernelPid, nil)
	require.NoError(t, err)
	f.sched.Run()

	require.Contains(t, listing, "a.txt")
	require.Contains(t, listing, "b.txt")
}

func TestUnmappedPointerFailsClosed(t *testing.T) {
	program := func(sc collab.Syscaller) int64 {
		return sc.Syscall(int64(syscallapi.SysWrite), [3]int64{1, 0xdead_beef_0000, 5})
	}
	var exitCode int64 = -99
	wrapped := func(sc collab.Syscaller) int64 {
		exitCode = program(sc)
		return exitCode
	}
	runOne(t, wrapped)
	require.EqualValues(t, -1, exitCode)
}
