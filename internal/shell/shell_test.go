package shell_test

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
	"github.com/iansmith/mazkern/internal/shell"
	"github.com/iansmith/mazkern/internal/syscallapi"
	"github.com/iansmith/mazkern/internal/vmem"
)

func newShellFixture(t *testing.T) (*sched.Scheduler, *manager.ProcessManager, *collab.BufConsole, *collab.MemFS) {
	t.Helper()
	alloc := collab.NewSimFrameAllocator(8192)
	mapper := collab.NewSimPageMapper()
	kernelVm, err := vmem.InitKernelVm(mapper, nil, alloc)
	require.NoError(t, err)

	stdout := &bytes.Buffer{}
	console := collab.NewBufConsole(stdout, &bytes.Buffer{})
	kernelData := procdata.New(console)
	kernel := process.New(procid.KernelPid, "kernel", 0, kernelVm, kernelData, 0)

	fs := collab.NewMemFS()
	log := logrus.NewEntry(logrus.New())
	apps := []collab.AppEntry{
		{Name: "shell", ELF: collab.NewTrivialImage(0x40_0000), Program: shell.Run},
		{Name: "/other", ELF: collab.NewTrivialImage(0x40_0000)},
	}
	mgr := manager.New(kernel, apps, mapper, collab.ELFLoader{}, fs, console, collab.SystemClock{}, alloc, log)
	s := sched.New(mgr, log)
	h := syscallapi.New(mgr, s, log)
	s.SetSyscaller(h)
	return s, mgr, console, fs
}

func TestShellHelpLsCatAndExit(t *testing.T) {
	s, mgr, console, fs := newShellFixture(t)
	fs.AddFile("/greeting.txt", []byte("hi there"))

	console.FeedStdin([]byte("help\nla\ncat /greeting.txt\nexit 3\n"))

	pid, err := s.SpawnApp("shell", procid.KernelPid, nil)
	require.NoError(t, err)
	s.Run()

	code, ok := mgr.GetExitCode(pid)
	require.True(t, ok)
	require.EqualValues(t, 3, code)

	out := console.Stdout.(*bytes.Buffer).String()
	require.Contains(t, out, "commands: help,")
	require.Contains(t, out, "greeting.txt")
	require.Contains(t, out, "hi there")
}

func TestShellRunWaitsForChildAndReportsExitCode(t *testing.T) {
	s, mgr, console, fs := newShellFixture(t)
	fs.AddFile("/other.elf", collab.NewTrivialImage(0x40_0000))

	console.FeedStdin([]byte("run /other.elf\nexit\n"))

	pid, err := s.SpawnApp("shell", procid.KernelPid, nil)
	require.NoError(t, err)
	s.Run()

	code, ok := mgr.GetExitCode(pid)
	require.True(t, ok)
	require.EqualValues(t, 0, code)

	out := console.Stdout.(*bytes.Buffer).String()
	require.Contains(t, out, "[exit 0]")
}

func TestShellPsAndInfoUseSyntheticProcfs(t *testing.T) {
	s, mgr, console, _ := newShellFixture(t)
	console.FeedStdin([]byte("ps\ninfo\nexit\n"))

	pid, err := s.SpawnApp("shell", procid.KernelPid, nil)
	require.NoError(t, err)
	s.Run()

	_, ok := mgr.GetExitCode(pid)
	require.True(t, ok)

	out := console.Stdout.(*bytes.Buffer).String()
	require.Contains(t, out, "PID\tPPID\tSTAT")
	require.Contains(t, out, "name=shell")
}

func TestShellUnknownCommandReportsError(t *testing.T) {
	s, mgr, console, _ := newShellFixture(t)
	console.FeedStdin([]byte("bogus\nexit\n"))

	pid, err := s.SpawnApp("shell", procid.KernelPid, nil)
	require.NoError(t, err)
	s.Run()

	_, ok := mgr.GetExitCode(pid)
	require.True(t, ok)

	out := console.Stdout.(*bytes.Buffer).String()
	require.Contains(t, out, "unknown command: bogus")
}
