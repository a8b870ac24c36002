// Package manager implements ProcessManager (spec component I): the
// process registry, ready queue, waiters map, and the spawn/fork/kill/
// page-fault operations that tie the rest of the process subsystem
// together. Grounded on the teacher's manager.rs (see DESIGN.md).
package manager

import (
	"fmt"
	"sort"

	goerrors "github.com/go-errors/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
	"github.com/iansmith/mazkern/internal/vmem"
)

// ProcessManager owns the processes map, ready queue, and waiters map,
// plus handles to the collaborators spawn/read/write need.
type ProcessManager struct {
	mu        deadlock.RWMutex
	processes map[procid.ProcessId]*process.Process

	rqMu  deadlock.Mutex
	ready []procid.ProcessId

	waitMu  deadlock.Mutex
	waiters map[procid.ProcessId]map[procid.ProcessId]struct{}

	curMu   deadlock.Mutex
	current procid.ProcessId

	appList []collab.AppEntry

	mapper  collab.PageMapper
	loader  collab.ElfLoader
	fs      collab.FileSystem
	console collab.Console
	clock   collab.Clock
	alloc   collab.FrameAllocator

	log *logrus.Entry
}

// New wires a ProcessManager around the kernel's already-constructed
// init process and boot record, matching manager.rs's ProcessManager::new.
func New(
	kernel *process.Process,
	appList []collab.AppEntry,
	mapper collab.PageMapper,
	loader collab.ElfLoader,
	fs collab.FileSystem,
	console collab.Console,
	clock collab.Clock,
	alloc collab.FrameAllocator,
	log *logrus.Entry,
) *ProcessManager {
	kernel.Inner.SetStatus(process.StatusRunning)
	m := &ProcessManager{
		processes: map[procid.ProcessId]*process.Process{kernel.Pid: kernel},
		waiters:   make(map[procid.ProcessId]map[procid.ProcessId]struct{}),
		appList:   appList,
		mapper:    mapper,
		loader:    loader,
		fs:        fs,
		console:   console,
		clock:     clock,
		alloc:     alloc,
		log:       log,
		current:   kernel.Pid,
	}
	return m
}

func (m *ProcessManager) PushReady(pid procid.ProcessId) {
	m.rqMu.Lock()
	defer m.rqMu.Unlock()
	m.ready = append(m.ready, pid)
}

func (m *ProcessManager) popReady() (procid.ProcessId, bool) {
	m.rqMu.Lock()
	defer m.rqMu.Unlock()
	if len(m.ready) == 0 {
		return 0, false
	}
	pid := m.ready[0]
	m.ready = m.ready[1:]
	return pid, true
}

// AddWaiting records that the current process is blocked waiting for
// target to exit.
func (m *ProcessManager) AddWaiting(target procid.ProcessId) {
	waiter := m.CurrentPid()
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	set, ok := m.waiters[target]
	if !ok {
		set = make(map[procid.ProcessId]struct{})
		m.waiters[target] = set
	}
	set[waiter] = struct{}{}
}

func (m *ProcessManager) addProc(pid procid.ProcessId, p *process.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[pid] = p
}

func (m *ProcessManager) getProc(pid procid.ProcessId) (*process.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[pid]
	return p, ok
}

func (m *ProcessManager) CurrentPid() procid.ProcessId {
	m.curMu.Lock()
	defer m.curMu.Unlock()
	return m.current
}

func (m *ProcessManager) setCurrent(pid procid.ProcessId) {
	m.curMu.Lock()
	defer m.curMu.Unlock()
	m.current = pid
}

// Current returns the currently running process.
func (m *ProcessManager) Current() (*process.Process, bool) {
	return m.getProc(m.CurrentPid())
}

// WakeUp transitions pid from Blocked to Ready and enqueues it.
func (m *ProcessManager) WakeUp(pid procid.ProcessId) {
	proc, ok := m.getProc(pid)
	if !ok {
		return
	}
	proc.Inner.SetStatus(process.StatusReady)
	m.PushReady(pid)
}

// WakeWaiting removes deadPid's waiter set, writes ret into each
// waiter's saved return register, and wakes each one — except waiters
// that were themselves killed in the meantime, which are dropped
// rather than re-queued as Dead.
func (m *ProcessManager) WakeWaiting(deadPid procid.ProcessId, ret int64) {
	m.waitMu.Lock()
	set, ok := m.waiters[deadPid]
	delete(m.waiters, deadPid)
	m.waitMu.Unlock()
	if !ok {
		return
	}
	for waiter := range set {
		proc, ok := m.getProc(waiter)
		if !ok || proc.Inner.GetStatus() == process.StatusDead {
			continue
		}
		proc.Inner.SetReturnValue(ret)
		m.WakeUp(waiter)
	}
}

// GetExitCode reports pid's recorded exit code.
func (m *ProcessManager) GetExitCode(pid procid.ProcessId) (int64, bool) {
	proc, ok := m.getProc(pid)
	if !ok {
		return 0, false
	}
	return proc.Inner.ExitCodeValue()
}

// IsAlive reports whether pid exists and is not Dead.
func (m *ProcessManager) IsAlive(pid procid.ProcessId) bool {
	proc, ok := m.getProc(pid)
	return ok && proc.Inner.GetStatus() != process.StatusDead
}

// AppList returns the boot-time name->ELF table.
func (m *ProcessManager) AppList() []collab.AppEntry { return m.appList }

// Allocator returns the frame allocator collaborator, for callers
// (the syscall dispatcher) that need to dereference a user pointer.
func (m *ProcessManager) Allocator() collab.FrameAllocator { return m.alloc }

// Mapper returns the page mapper collaborator.
func (m *ProcessManager) Mapper() collab.PageMapper { return m.mapper }

// spawn is the single unified spawn path (spec.md §9): callers resolve
// either an AppEntry or a FileSystem path into ELF bytes first, then
// call this. It clones the kernel's L4 mappings for the new address
// space, loads the ELF, maps the default stack, and enqueues Ready.
func (m *ProcessManager) spawn(elf []byte, name string, parentPid procid.ProcessId, data *procdata.ProcessData, program collab.ProgramFunc) (procid.ProcessId, error) {
	kernel, ok := m.getProc(procid.KernelPid)
	if !ok {
		return 0, fmt.Errorf("manager: kernel process not registered")
	}
	kernelVM := kernel.Inner.VM()
	if kernelVM == nil {
		return 0, fmt.Errorf("manager: kernel vm unavailable")
	}

	pid := procid.New()
	vm, err := vmem.NewForSpawn(kernelVM.PageTable, m.alloc, pid)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "manager: spawn address space", 0)
	}
	entry, err := vm.LoadELF(elf, m.loader, m.alloc)
	if err != nil {
		return 0, goerrors.WrapPrefix(err, "manager: spawn load ELF", 0)
	}

	if data == nil {
		data = procdata.New(m.console)
	}
	data.CodeSegmentPages = vm.CodeSegmentPages

	proc := process.New(pid, name, parentPid, vm, data, entry)
	proc.Inner.SetProgram(program)
	m.addProc(pid, proc)
	if parentPid != 0 {
		if parent, ok := m.getProc(parentPid); ok {
			parent.Inner.AddChild(pid)
		}
	}
	m.PushReady(pid)
	m.log.WithFields(logrus.Fields{"pid": pid, "name": name}).Trace("spawned process")
	return pid, nil
}

// SpawnApp spawns the named boot-time app.
func (m *ProcessManager) SpawnApp(appName string, parentPid procid.ProcessId, data *procdata.ProcessData) (procid.ProcessId, error) {
	for _, app := range m.appList {
		if app.Name == appName {
			return m.spawn(app.ELF, app.Name, parentPid, data, app.Program)
		}
	}
	return 0, fmt.Errorf("manager: app %q not found", appName)
}

// SpawnPath loads an ELF from the filesystem collaborator and spawns it.
// Path-loaded binaries have no registered Go closure to run; the
// scheduler exits such a process immediately with code 0 once started.
func (m *ProcessManager) SpawnPath(path string, parentPid procid.ProcessId, data *procdata.ProcessData) (procid.ProcessId, error) {
	elf, err := m.fs.ReadAll(path)
	if err != nil {
		return 0, err
	}
	return m.spawn(elf, path, parentPid, data, nil)
}

// Process returns the registered process handle for pid, for callers
// (the scheduler) that need direct access to its turnstile channel.
func (m *ProcessManager) Process(pid procid.ProcessId) (*process.Process, bool) {
	return m.getProc(pid)
}

// Fork forks the current process and registers the child, without
// touching the ready queue (the caller pushes both parent and child).
func (m *ProcessManager) Fork() (*process.Process, error) {
	parent, ok := m.Current()
	if !ok {
		return nil, fmt.Errorf("manager: no current process")
	}
	childPid := procid.New()
	child, err := parent.Fork(childPid, m.alloc)
	if err != nil {
		return nil, err
	}
	m.addProc(childPid, child)
	return child, nil
}

// Kill marks pid Dead and wakes anything waiting on its exit. A no-op
// if pid is absent or already Dead.
func (m *ProcessManager) Kill(pid procid.ProcessId, ret int64) {
	proc, ok := m.getProc(pid)
	if !ok {
		m.log.WithField("pid", pid).Warn("kill: process not found")
		return
	}
	if proc.Inner.GetStatus() == process.StatusDead {
		m.log.WithField("pid", pid).Warn("kill: process already dead")
		return
	}
	proc.Inner.Kill(ret, m.alloc)
	m.WakeWaiting(pid, ret)
}

// HandlePageFault grows the current process's stack if addr lies
// within it and the fault was not a protection violation; otherwise
// returns false (fatal to the faulting process).
func (m *ProcessManager) HandlePageFault(addr collab.VAddr, protectionViolation bool) bool {
	proc, ok := m.Current()
	if !ok {
		return false
	}
	vm := proc.Inner.VM()
	if vm == nil || !vm.Stack.IsOnStack(addr) || protectionViolation {
		return false
	}
	return vm.HandlePageFault(addr, m.alloc)
}

// Fatal logs err (wrapped with a stack trace if it isn't already a
// *goerrors.Error) at Error level and panics. Reserved for conditions
// the kernel cannot recover from — a corrupted ready queue, a fork-root
// failure mid-clone — as opposed to ordinary syscall failures, which
// stay small negative return values per spec.md §7.
func (m *ProcessManager) Fatal(err error) {
	wrapped := goerrors.Wrap(err, 1)
	m.log.WithField("stack", wrapped.ErrorStack()).Error("fatal kernel error")
	panic(wrapped)
}

// ProcessSummary is one row of the ps table.
type ProcessSummary struct {
	Pid       procid.ProcessId
	ParentPid procid.ProcessId
	Name      string
	Ticks     uint64
	Status    process.Status
}

// Snapshot returns a ps-style table of every non-Dead process, sorted
// by pid.
func (m *ProcessManager) Snapshot() []ProcessSummary {
	m.mu.RLock()
	pids := make([]procid.ProcessId, 0, len(m.processes))
	for pid := range m.processes {
		pids = append(pids, pid)
	}
	m.mu.RUnlock()
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	out := make([]ProcessSummary, 0, len(pids))
	for _, pid := range pids {
		proc, ok := m.getProc(pid)
		if !ok || proc.Inner.GetStatus() == process.StatusDead {
			continue
		}
		out = append(out, ProcessSummary{
			Pid:       pid,
			ParentPid: proc.Inner.ParentPid,
			Name:      proc.Inner.Name,
			Ticks:     proc.Inner.Ticks(),
			Status:    proc.Inner.GetStatus(),
		})
	}
	return out
}
