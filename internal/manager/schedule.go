package manager

import (
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
)

// SaveCurrent ticks and saves ctx into the current process's frame,
// returning its pid; the caller decides whether to re-enqueue it.
func (m *ProcessManager) SaveCurrent(ctx process.RegisterFrame) (procid.ProcessId, bool) {
	proc, ok := m.Current()
	if !ok {
		return 0, false
	}
	proc.Inner.Save(ctx)
	return proc.Pid, true
}

// SwitchNext pops the next Ready pid from the queue, restores its
// saved frame, and makes it current. A popped pid whose status has
// since changed away from Ready is pushed back and the next one is
// tried, mirroring the teacher's manager.rs switch_next.
func (m *ProcessManager) SwitchNext() (procid.ProcessId, process.RegisterFrame, bool) {
	for {
		pid, ok := m.popReady()
		if !ok {
			return 0, process.RegisterFrame{}, false
		}
		proc, ok := m.getProc(pid)
		if !ok {
			continue
		}
		if proc.Inner.GetStatus() != process.StatusReady {
			m.PushReady(pid)
			continue
		}
		frame := proc.Inner.Restore()
		m.setCurrent(pid)
		return pid, frame, true
	}
}
