package manager

import (
	"bytes"
	"fmt"

	"github.com/samber/lo"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
)

// procReader is a FileHandle over an in-memory snapshot, backing the
// synthetic /proc/ps and /proc/self files: a shell program has no
// privileged syscall for a process listing, so it reads one the same
// way a real shell's ps reads procfs.
type procReader struct {
	r *bytes.Reader
}

func (p *procReader) Read(buf []byte) (int, error) { return p.r.Read(buf) }
func (p *procReader) Close() error                 { return nil }

// Read forwards to the current process's fd table.
func (m *ProcessManager) Read(fd byte, buf []byte) (int, error) {
	proc, ok := m.Current()
	if !ok {
		return 0, fmt.Errorf("manager: no current process")
	}
	data := proc.Inner.Data()
	if data == nil {
		return 0, fmt.Errorf("manager: current process has no data")
	}
	return data.Read(fd, buf)
}

// Write forwards to the current process's fd table.
func (m *ProcessManager) Write(fd byte, buf []byte) (int, error) {
	proc, ok := m.Current()
	if !ok {
		return -1, fmt.Errorf("manager: no current process")
	}
	data := proc.Inner.Data()
	if data == nil {
		return -1, fmt.Errorf("manager: current process has no data")
	}
	return data.Write(fd, buf)
}

// OpenFile opens path through the filesystem collaborator (or, for the
// synthetic /proc/* paths, synthesizes content in-process) and installs
// it in the current process's fd table.
func (m *ProcessManager) OpenFile(path string) (byte, error) {
	proc, ok := m.Current()
	if !ok {
		return 0, fmt.Errorf("manager: no current process")
	}
	data := proc.Inner.Data()
	if data == nil {
		return 0, fmt.Errorf("manager: current process has no data")
	}

	var handle collab.FileHandle
	switch path {
	case "/proc/ps":
		handle = &procReader{r: bytes.NewReader([]byte(m.psListing()))}
	case "/proc/self":
		handle = &procReader{r: bytes.NewReader([]byte(m.selfInfo(proc.Pid)))}
	default:
		h, err := m.fs.Open(path)
		if err != nil {
			return 0, err
		}
		handle = h
	}

	fd, ok := data.Open(procdata.Resource{Kind: procdata.ResourceFile, File: handle})
	if !ok {
		handle.Close()
		return 0, fmt.Errorf("manager: fd table full")
	}
	return fd, nil
}

// psListing renders the current Snapshot as a ps-style text table.
func (m *ProcessManager) psListing() string {
	var sb bytes.Buffer
	sb.WriteString("PID\tPPID\tSTAT\tTICKS\tNAME\n")
	for _, row := range m.Snapshot() {
		fmt.Fprintf(&sb, "%d\t%d\t%s\t%d\t%s\n", row.Pid, row.ParentPid, row.Status, row.Ticks, row.Name)
	}
	return sb.String()
}

// selfInfo renders the calling process's own summary line.
func (m *ProcessManager) selfInfo(pid procid.ProcessId) string {
	proc, ok := m.getProc(pid)
	if !ok {
		return ""
	}
	codePages := 0
	if vm := proc.Inner.VM(); vm != nil {
		codePages = vm.CodeSegmentPages
	}
	return fmt.Sprintf("pid=%d\nppid=%d\nname=%s\nstatus=%s\nticks=%d\ncode_segment_pages=%d\n",
		proc.Pid, proc.Inner.ParentPid, proc.Inner.Name, proc.Inner.GetStatus(), proc.Inner.Ticks(), codePages)
}

// CloseFile closes fd in the current process's fd table.
func (m *ProcessManager) CloseFile(fd byte) bool {
	proc, ok := m.Current()
	if !ok {
		return false
	}
	data := proc.Inner.Data()
	if data == nil {
		return false
	}
	return data.Close(fd)
}

// ListDir forwards to the filesystem collaborator.
func (m *ProcessManager) ListDir(path string) ([]string, error) {
	entries, err := m.fs.ReadDir(path)
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e collab.DirEntry, _ int) string { return e.Name }), nil
}

// Now returns the boot-supplied runtime clock's current time in
// seconds, for the Time syscall.
func (m *ProcessManager) Now() int64 {
	return m.clock.Now().Unix()
}
