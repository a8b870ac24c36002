// Package sched implements the scheduler (spec component J): it turns
// the teacher's timer-tick-driven save_current/switch_next loop into
// one goroutine per process, gated by a turnstile so that exactly one
// process's program ever executes at a time — the idiomatic Go analogue
// of a single-CPU kernel, with a blocking syscall's channel receive
// standing in for the tick handler suspending a process. There is no
// timer preemption: a granted program runs until it blocks in a
// syscall or returns.
package sched

import (
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/manager"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
)

// Scheduler drives the process manager's ready queue, launching a
// goroutine for every spawned or forked process and granting each one
// the turnstile in turn.
type Scheduler struct {
	mgr *manager.ProcessManager
	log *logrus.Entry

	mu        deadlock.Mutex
	done      chan procid.ProcessId
	syscaller collab.Syscaller
}

// New wires a Scheduler around an already-constructed ProcessManager.
func New(mgr *manager.ProcessManager, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		mgr:  mgr,
		log:  log,
		done: make(chan procid.ProcessId),
	}
}

// SetSyscaller installs the syscall dispatcher every launched program
// calls through. A single shared Syscaller is safe here because the
// turnstile guarantees only one process's program is ever actually
// executing (and therefore calling it) at a time; it reads whichever
// pid the ProcessManager currently considers current.
func (s *Scheduler) SetSyscaller(sc collab.Syscaller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syscaller = sc
}

func (s *Scheduler) syscallerHandle() collab.Syscaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syscaller
}

// launch starts pid's goroutine: it parks on the turnstile until
// first granted, runs its program to completion (a program that never
// blocks runs start-to-finish in one grant), then kills the process
// with the returned exit code and reports back to Step/Run.
func (s *Scheduler) launch(pid procid.ProcessId, program collab.ProgramFunc) {
	proc, ok := s.mgr.Process(pid)
	if !ok {
		return
	}
	go func() {
		<-proc.Turnstile
		var ret int64
		if program != nil {
			ret = program(s.syscallerHandle())
		}
		s.mgr.Kill(pid, ret)
		s.done <- pid
	}()
}

// Block is called by the syscall dispatcher from inside a process's own
// goroutine immediately before it parks on a blocking syscall (WaitPid
// on a live child, SemWait on an empty semaphore). It hands the CPU
// back to the scheduler loop, then waits to be granted the turnstile
// again once something wakes it (manager.WakeUp/WakeWaiting).
func (s *Scheduler) Block(pid procid.ProcessId) {
	s.done <- pid
	proc, ok := s.mgr.Process(pid)
	if !ok {
		return
	}
	<-proc.Turnstile
}

// SpawnApp spawns a boot-time app by name and launches its goroutine.
func (s *Scheduler) SpawnApp(appName string, parentPid procid.ProcessId, data *procdata.ProcessData) (procid.ProcessId, error) {
	pid, err := s.mgr.SpawnApp(appName, parentPid, data)
	if err != nil {
		return 0, err
	}
	proc, _ := s.mgr.Process(pid)
	s.launch(pid, proc.Inner.Program())
	return pid, nil
}

// SpawnPath spawns a filesystem-resident ELF and launches its goroutine.
func (s *Scheduler) SpawnPath(path string, parentPid procid.ProcessId, data *procdata.ProcessData) (procid.ProcessId, error) {
	pid, err := s.mgr.SpawnPath(path, parentPid, data)
	if err != nil {
		return 0, err
	}
	proc, _ := s.mgr.Process(pid)
	s.launch(pid, proc.Inner.Program())
	return pid, nil
}

// Fork forks the current process and launches the child's goroutine.
// The child inherits the parent's registered program closure — true
// copy-on-write continuation of the parent's call stack has no
// equivalent in Go's goroutine model, so the child's goroutine runs the
// same program from the top. Branching on Fork's return value alone
// does not separate the two: the re-entered child calls Fork again and
// gets a pid of its own. A program that forks therefore needs a
// closure-captured guard (see DESIGN.md's fork-continuation note) or
// has the child immediately exec a different program via
// SpawnPath/SpawnApp, mirroring a real shell's fork-then-exec.
func (s *Scheduler) Fork(parentPid procid.ProcessId) (procid.ProcessId, error) {
	child, err := s.mgr.Fork()
	if err != nil {
		return 0, err
	}
	s.mgr.PushReady(child.Pid)
	s.launch(child.Pid, child.Inner.Program())
	return child.Pid, nil
}

// Step runs one process to completion or to its next blocking point:
// it pops the next Ready pid, grants its turnstile, and waits for it
// to yield or finish. Returns false when the ready queue is empty.
func (s *Scheduler) Step() bool {
	pid, _, ok := s.mgr.SwitchNext()
	if !ok {
		return false
	}
	proc, ok := s.mgr.Process(pid)
	if !ok {
		return true
	}
	proc.Turnstile <- struct{}{}
	<-s.done
	return true
}

// Run steps until the ready queue is empty — every launched process
// has either exited or is parked waiting on something else to wake it.
func (s *Scheduler) Run() {
	for s.Step() {
	}
}
