// Package process implements Process and ProcessInner (spec component
// H): lifecycle, status, saved-context save/restore, children, and
// fork.
package process

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/vmem"
)

// Status is the tagged variant over a process's lifecycle state.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusBlocked:
		return "Blocked"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// RegisterFrame is the saved context a real kernel would keep on a
// trap stack: the program counter and stack pointer to resume at, and
// the return-value register blocking syscalls write wakeup results
// into directly.
type RegisterFrame struct {
	EntryPoint   collab.VAddr
	StackPointer collab.VAddr
	ReturnValue  int64
}

// ProcessInner holds everything behind the per-process reader/writer
// lock: name, parent linkage, children, ticks, status, exit code, the
// saved frame, and the process's vm/data.
type ProcessInner struct {
	mu deadlock.RWMutex

	Name        string
	ParentPid   procid.ProcessId // 0 means no parent (the kernel)
	Children    []procid.ProcessId
	TicksPassed uint64
	Status      Status
	ExitCode    *int64
	Frame       RegisterFrame
	vm          *vmem.ProcessVm
	data        *procdata.ProcessData
	program     collab.ProgramFunc
}

// Process is the strong handle stored in ProcessManager's registry:
// a stable pid plus the inner lockable state, plus the turnstile
// channel the scheduler signals to let this process's goroutine run
// one more slice.
type Process struct {
	Pid       procid.ProcessId
	Inner     *ProcessInner
	Turnstile chan struct{}
}

// New constructs a Ready process around an already-built vm/data pair.
func New(pid procid.ProcessId, name string, parentPid procid.ProcessId, vm *vmem.ProcessVm, data *procdata.ProcessData, entry collab.VAddr) *Process {
	return &Process{
		Pid: pid,
		Inner: &ProcessInner{
			Name:      name,
			ParentPid: parentPid,
			Status:    StatusReady,
			Frame:     RegisterFrame{EntryPoint: entry, StackPointer: vm.StackTop()},
			vm:        vm,
			data:      data,
		},
		Turnstile: make(chan struct{}),
	}
}

// SetProgram records the Go closure that stands in for this process's
// mapped code; Program returns it. The scheduler reads this when it
// launches the process's goroutine.
func (p *ProcessInner) SetProgram(fn collab.ProgramFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = fn
}

func (p *ProcessInner) Program() collab.ProgramFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.program
}

func (p *ProcessInner) AddChild(pid procid.ProcessId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Children = append(p.Children, pid)
}

func (p *ProcessInner) ChildrenSnapshot() []procid.ProcessId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]procid.ProcessId, len(p.Children))
	copy(out, p.Children)
	return out
}

func (p *ProcessInner) GetStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

func (p *ProcessInner) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = s
}

// ExitCodeValue returns the recorded exit code and whether one exists.
func (p *ProcessInner) ExitCodeValue() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ExitCode == nil {
		return 0, false
	}
	return *p.ExitCode, true
}

// VM returns the process's address space, or nil once Dead.
func (p *ProcessInner) VM() *vmem.ProcessVm {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vm
}

// Data returns the process's ProcessData, or nil once Dead.
func (p *ProcessInner) Data() *procdata.ProcessData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data
}

func (p *ProcessInner) Ticks() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.TicksPassed
}

// Save copies ctx into the saved frame and bumps the tick counter;
// ignored once the process is Dead.
func (p *ProcessInner) Save(ctx RegisterFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status == StatusDead {
		return
	}
	p.Frame = ctx
	p.TicksPassed++
}

// FrameSnapshot returns the saved frame without mutating status, for
// inspection (tests, ps/info).
func (p *ProcessInner) FrameSnapshot() RegisterFrame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Frame
}

// Restore marks the process Running and returns the frame to resume
// execution with.
func (p *ProcessInner) Restore() RegisterFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = StatusRunning
	return p.Frame
}

// SetReturnValue writes directly into the saved frame's return
// register without going through Restore — the mechanism blocking
// syscalls (WaitPid, SemWait) use to deliver a wakeup value.
func (p *ProcessInner) SetReturnValue(v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Frame.ReturnValue = v
}

// Kill records the exit code, releases the vm and data (returning
// their frames), and transitions to Dead. A no-op if already Dead.
func (p *ProcessInner) Kill(ret int64, alloc collab.FrameAllocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status == StatusDead {
		return
	}
	code := ret
	p.ExitCode = &code
	if p.vm != nil {
		p.vm.CleanUp(alloc)
		p.vm = nil
	}
	if p.data != nil {
		p.data.CleanUp()
		p.data = nil
	}
	p.Status = StatusDead
}

// Fork produces a Ready child: forked vm (new page table, new stack
// slot with copied contents, carried-forward heap break), cloned
// ProcessData, a saved frame copied from the parent with its stack
// pointer rebased onto the child's slot and its return register
// zeroed (the parent instead receives the child's pid as its own
// return value — see internal/manager).
func (p *Process) Fork(childPid procid.ProcessId, alloc collab.FrameAllocator) (*Process, error) {
	p.Inner.mu.Lock()
	defer p.Inner.mu.Unlock()

	childVm, err := p.Inner.vm.Fork(alloc, childPid)
	if err != nil {
		return nil, err
	}
	childData := p.Inner.data.Fork()

	childFrame := p.Inner.Frame
	childFrame.StackPointer = vmem.AdjustStackPointer(
		p.Inner.Frame.StackPointer,
		vmem.SlotBase(uint16(p.Pid)),
		vmem.SlotBase(uint16(childPid)),
	)
	childFrame.ReturnValue = 0

	child := &Process{
		Pid: childPid,
		Inner: &ProcessInner{
			Name:      p.Inner.Name,
			ParentPid: p.Pid,
			Status:    StatusReady,
			Frame:     childFrame,
			vm:        childVm,
			data:      childData,
			program:   p.Inner.program,
		},
		Turnstile: make(chan struct{}),
	}
	p.Inner.Children = append(p.Inner.Children, childPid)
	return child, nil
}
