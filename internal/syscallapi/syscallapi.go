// Package syscallapi implements the user/kernel boundary (spec
// component K): the fixed-size dispatch table a running program's
// Syscall calls index into, translating (number, arg0, arg1, arg2)
// into the ProcessManager operation it names and a single int64
// return value, exactly mirroring the calling convention a real
// syscall gate would enforce. Pointer-carrying arguments (buffers,
// paths) are real virtual addresses into the calling process's own
// address space, dereferenced through the page table the same way a
// real kernel's copy_from_user/copy_to_user would.
package syscallapi

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/manager"
	"github.com/iansmith/mazkern/internal/procdata"
	"github.com/iansmith/mazkern/internal/procid"
	"github.com/iansmith/mazkern/internal/process"
	"github.com/iansmith/mazkern/internal/semaphore"
	"github.com/iansmith/mazkern/internal/vmem"
)

// Syscall numbers, in dispatch-table order.
const (
	SysWrite = iota
	SysRead
	SysOpen
	SysClose
	SysExit
	SysFork
	SysWaitPid
	SysBrk
	SysSemInsert
	SysSemRemove
	SysSemWait
	SysSemSignal
	SysGetPid
	SysGetParentPid
	SysSpawn
	SysListDir
	SysTime
	SysKill
	numSyscalls
)

// Blocker is the half of the scheduler the dispatcher needs: a way to
// hand the CPU back and park the calling goroutine until woken, a way
// to fork a running process into a new one, and a way to spawn a
// filesystem-resident ELF with its goroutine launched.
type Blocker interface {
	Block(pid procid.ProcessId)
	Fork(parentPid procid.ProcessId) (procid.ProcessId, error)
	SpawnPath(path string, parentPid procid.ProcessId, data *procdata.ProcessData) (procid.ProcessId, error)
}

// Handle implements collab.Syscaller. A single instance is shared
// by every process's program closure; every method call acts on
// whichever process manager.CurrentPid reports — safe because the
// scheduler's turnstile guarantees only one program is ever actually
// running (and therefore calling in) at a time.
type Handle struct {
	mgr     *manager.ProcessManager
	blocker Blocker
	log     *logrus.Entry
}

// New wires a Handle around the process manager and scheduler.
func New(mgr *manager.ProcessManager, blocker Blocker, log *logrus.Entry) *Handle {
	return &Handle{mgr: mgr, blocker: blocker, log: log}
}

// Syscall is the single dispatch entry point every ProgramFunc calls
// through, matching spec.md's (num, arg0, arg1, arg2) -> int64 table.
func (d *Handle) Syscall(num int64, args [3]int64) int64 {
	switch num {
	case SysWrite:
		buf, err := d.readUser(collab.VAddr(args[1]), int(args[2]))
		if err != nil {
			return -1
		}
		n, err := d.mgr.Write(byte(args[0]), buf)
		if err != nil {
			return -1
		}
		return int64(n)
	case SysRead:
		buf := make([]byte, args[2])
		n, err := d.mgr.Read(byte(args[0]), buf)
		if err != nil {
			return -1
		}
		if err := d.writeUser(collab.VAddr(args[1]), buf[:n]); err != nil {
			return -1
		}
		return int64(n)
	case SysOpen:
		path, err := d.readUserString(collab.VAddr(args[0]))
		if err != nil {
			return -1
		}
		fd, err := d.mgr.OpenFile(path)
		if err != nil {
			return -1
		}
		return int64(fd)
	case SysClose:
		if d.mgr.CloseFile(byte(args[0])) {
			return 0
		}
		return -1
	case SysExit:
		pid := d.mgr.CurrentPid()
		d.mgr.Kill(pid, args[0])
		return args[0]
	case SysFork:
		childPid, err := d.blocker.Fork(d.mgr.CurrentPid())
		if err != nil {
			return -1
		}
		return int64(childPid)
	case SysWaitPid:
		return d.waitPid(procid.ProcessId(args[0]))
	case SysBrk:
		return d.brk(args[0])
	case SysSemInsert:
		if d.semSet().Insert(uint32(args[0]), args[1]) {
			return 0
		}
		return -1
	case SysSemRemove:
		if d.semSet().Remove(uint32(args[0])) {
			return 0
		}
		return -1
	case SysSemWait:
		return d.semWait(uint32(args[0]))
	case SysSemSignal:
		res, woken := d.semSet().Signal(uint32(args[0]))
		switch res {
		case semaphore.SignalNotExist:
			return -1
		case semaphore.SignalWake:
			d.mgr.WakeUp(woken)
		}
		return 0
	case SysGetPid:
		return int64(d.mgr.CurrentPid())
	case SysGetParentPid:
		proc, ok := d.mgr.Current()
		if !ok {
			return -1
		}
		return int64(proc.Inner.ParentPid)
	case SysSpawn:
		path, err := d.readUserString(collab.VAddr(args[0]))
		if err != nil {
			return -1
		}
		pid, err := d.blocker.SpawnPath(path, d.mgr.CurrentPid(), nil)
		if err != nil {
			return -1
		}
		return int64(pid)
	case SysListDir:
		path, err := d.readUserString(collab.VAddr(args[0]))
		if err != nil {
			return -1
		}
		entries, err := d.mgr.ListDir(path)
		if err != nil {
			return -1
		}
		listing := []byte(strings.Join(entries, "\n"))
		if len(listing) > int(args[2]) {
			listing = listing[:args[2]]
		}
		if err := d.writeUser(collab.VAddr(args[1]), listing); err != nil {
			return -1
		}
		return int64(len(listing))
	case SysTime:
		return d.mgr.Now()
	case SysKill:
		d.mgr.Kill(procid.ProcessId(args[0]), args[1])
		return 0
	default:
		d.log.WithField("num", num).Warn("syscall: unknown syscall number")
		return -1
	}
}

// Scratch returns the current process's pre-mapped syscall-argument
// buffer, satisfying collab.Syscaller.
func (d *Handle) Scratch() (collab.VAddr, []byte) {
	vm, err := d.currentVM()
	if err != nil {
		return 0, nil
	}
	return vm.Scratch(d.mgr.Allocator())
}

func (d *Handle) semSet() *semaphore.Set {
	proc, ok := d.mgr.Current()
	if !ok {
		return semaphore.NewSet()
	}
	return proc.Inner.Data().Semaphores
}

// semWait blocks the calling process when the semaphore is exhausted,
// handing the CPU to the scheduler and parking until Signal wakes it.
func (d *Handle) semWait(key uint32) int64 {
	pid := d.mgr.CurrentPid()
	set := d.semSet()
	switch set.Wait(key, pid) {
	case semaphore.WaitNotExist:
		return -1
	case semaphore.WaitBlock:
		d.parkCurrent(pid)
	}
	return 0
}

// waitPid blocks the caller until target exits, unless it already has.
func (d *Handle) waitPid(target procid.ProcessId) int64 {
	if code, ok := d.mgr.GetExitCode(target); ok {
		return code
	}
	if !d.mgr.IsAlive(target) {
		return -1
	}
	pid := d.mgr.CurrentPid()
	d.mgr.AddWaiting(target)
	proc, _ := d.mgr.Current()
	d.parkCurrent(pid)
	return proc.Inner.FrameSnapshot().ReturnValue
}

// parkCurrent marks the current process Blocked and yields the CPU
// back to the scheduler until WakeUp/WakeWaiting grants it again.
func (d *Handle) parkCurrent(pid procid.ProcessId) {
	proc, ok := d.mgr.Process(pid)
	if !ok {
		return
	}
	proc.Inner.SetStatus(process.StatusBlocked)
	d.blocker.Block(pid)
}

func (d *Handle) brk(newEndArg int64) int64 {
	proc, ok := d.mgr.Current()
	if !ok {
		return -1
	}
	vm := proc.Inner.VM()
	if vm == nil {
		return -1
	}
	var newEnd *collab.VAddr
	if newEndArg != 0 {
		v := collab.VAddr(newEndArg)
		newEnd = &v
	}
	end, ok := vm.Heap.Brk(newEnd, vm.PageTable.Mapper(), d.mgr.Allocator(), vm.PageTable.Root())
	if !ok {
		return -1
	}
	return int64(end)
}

const maxUserString = 4096

// readUserString scans a NUL-terminated string out of the current
// process's address space.
func (d *Handle) readUserString(ptr collab.VAddr) (string, error) {
	vm, err := d.currentVM()
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, 64)
	addr := ptr
	for len(out) < maxUserString {
		b, err := readUserByte(vm, d.mgr.Allocator(), addr)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
		addr++
	}
	return "", fmt.Errorf("syscallapi: user string exceeds %d bytes", maxUserString)
}

func (d *Handle) readUser(ptr collab.VAddr, length int) ([]byte, error) {
	vm, err := d.currentVM()
	if err != nil {
		return nil, err
	}
	return readUserBytes(vm, d.mgr.Allocator(), ptr, length)
}

func (d *Handle) writeUser(ptr collab.VAddr, data []byte) error {
	vm, err := d.currentVM()
	if err != nil {
		return err
	}
	return writeUserBytes(vm, d.mgr.Allocator(), ptr, data)
}

func (d *Handle) currentVM() (*vmem.ProcessVm, error) {
	proc, ok := d.mgr.Current()
	if !ok {
		return nil, fmt.Errorf("syscallapi: no current process")
	}
	vm := proc.Inner.VM()
	if vm == nil {
		return nil, fmt.Errorf("syscallapi: current process has no address space")
	}
	return vm, nil
}

func readUserByte(vm *vmem.ProcessVm, alloc collab.FrameAllocator, addr collab.VAddr) (byte, error) {
	frame, flags, ok := vm.PageTable.Mapper().Translate(vm.PageTable.Root(), collab.PageOf(addr))
	if !ok || !flags.Present {
		return 0, fmt.Errorf("syscallapi: unmapped user pointer %#x", addr)
	}
	offset := int(addr % collab.PageSize)
	return alloc.Bytes(frame)[offset], nil
}

func readUserBytes(vm *vmem.ProcessVm, alloc collab.FrameAllocator, ptr collab.VAddr, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	addr := ptr
	for len(out) < length {
		frame, flags, ok := vm.PageTable.Mapper().Translate(vm.PageTable.Root(), collab.PageOf(addr))
		if !ok || !flags.Present {
			return nil, fmt.Errorf("syscallapi: unmapped user pointer %#x", addr)
		}
		offset := int(addr % collab.PageSize)
		page := alloc.Bytes(frame)
		n := length - len(out)
		if room := len(page) - offset; n > room {
			n = room
		}
		out = append(out, page[offset:offset+n]...)
		addr += collab.VAddr(n)
	}
	return out, nil
}

func writeUserBytes(vm *vmem.ProcessVm, alloc collab.FrameAllocator, ptr collab.VAddr, data []byte) error {
	addr := ptr
	written := 0
	for written < len(data) {
		frame, flags, ok := vm.PageTable.Mapper().Translate(vm.PageTable.Root(), collab.PageOf(addr))
		if !ok || !flags.Present || !flags.Writable {
			return fmt.Errorf("syscallapi: unwritable user pointer %#x", addr)
		}
		offset := int(addr % collab.PageSize)
		page := alloc.Bytes(frame)
		n := len(data) - written
		if room := len(page) - offset; n > room {
			n = room
		}
		copy(page[offset:offset+n], data[written:written+n])
		written += n
		addr += collab.VAddr(n)
	}
	return nil
}
