// Package shell implements the userland reference shell (spec
// component Q): a ProgramFunc built purely on top of the 18-entry
// syscall table, with no privileged access to kernel internals. It
// exists to exercise and demonstrate the process subsystem end to end
// — help, la, ls, cat, run, ps, info, exit — the way a real init
// process's shell would.
package shell

import (
	"strconv"
	"strings"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/syscallapi"
)

const (
	fdStdin  = 0
	fdStdout = 1
)

// Run is the shell's ProgramFunc: read a line from stdin, dispatch it,
// repeat until "exit" or stdin is exhausted.
func Run(sc collab.Syscaller) int64 {
	writeString(sc, "mazkern shell — type help\n")
	for {
		writeString(sc, "$ ")
		line, ok := readLine(sc)
		if !ok {
			return 0
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if code, exit := dispatch(sc, fields); exit {
			return code
		}
	}
}

// dispatch runs one command; exit is true once the shell should return.
func dispatch(sc collab.Syscaller, fields []string) (int64, bool) {
	switch fields[0] {
	case "help":
		writeString(sc, "commands: help, la, ls <path>, cat <path>, run <path>, ps, info, exit\n")
	case "la":
		listDir(sc, "/")
	case "ls":
		if len(fields) < 2 {
			writeString(sc, "usage: ls <path>\n")
			break
		}
		listDir(sc, fields[1])
	case "cat":
		if len(fields) < 2 {
			writeString(sc, "usage: cat <path>\n")
			break
		}
		catFile(sc, fields[1])
	case "run":
		if len(fields) < 2 {
			writeString(sc, "usage: run <path>\n")
			break
		}
		runPath(sc, fields[1])
	case "ps":
		catFile(sc, "/proc/ps")
	case "info":
		catFile(sc, "/proc/self")
	case "exit":
		code := int64(0)
		if len(fields) > 1 {
			if n, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				code = n
			}
		}
		return code, true
	default:
		writeString(sc, "unknown command: "+fields[0]+"\n")
	}
	return 0, false
}

func listDir(sc collab.Syscaller, path string) {
	ptr, buf := writeScratch(sc, path)
	outPtr, outBuf := sc.Scratch()
	n := sc.Syscall(int64(syscallapi.SysListDir), [3]int64{int64(ptr), int64(outPtr), int64(len(outBuf))})
	_ = buf
	if n < 0 {
		writeString(sc, "ls: cannot access "+path+"\n")
		return
	}
	writeString(sc, string(outBuf[:n])+"\n")
}

func catFile(sc collab.Syscaller, path string) {
	pathPtr, _ := writeScratch(sc, path)
	fd := sc.Syscall(int64(syscallapi.SysOpen), [3]int64{int64(pathPtr), 0, 0})
	if fd < 0 {
		writeString(sc, "cat: cannot open "+path+"\n")
		return
	}
	for {
		outPtr, outBuf := sc.Scratch()
		n := sc.Syscall(int64(syscallapi.SysRead), [3]int64{fd, int64(outPtr), int64(len(outBuf))})
		if n <= 0 {
			break
		}
		writeBytes(sc, outBuf[:n])
	}
	sc.Syscall(int64(syscallapi.SysClose), [3]int64{fd, 0, 0})
}

func runPath(sc collab.Syscaller, path string) {
	ptr, _ := writeScratch(sc, path)
	pid := sc.Syscall(int64(syscallapi.SysSpawn), [3]int64{int64(ptr), 0, 0})
	if pid < 0 {
		writeString(sc, "run: cannot spawn "+path+"\n")
		return
	}
	code := sc.Syscall(int64(syscallapi.SysWaitPid), [3]int64{pid, 0, 0})
	writeString(sc, "[exit "+strconv.FormatInt(code, 10)+"]\n")
}

// readLine reads bytes via SysRead on fd 0 until a newline or EOF (0
// bytes read); ok is false once the underlying console is exhausted
// with no data at all.
func readLine(sc collab.Syscaller) (string, bool) {
	var sb strings.Builder
	for {
		ptr, buf := sc.Scratch()
		n := sc.Syscall(int64(syscallapi.SysRead), [3]int64{fdStdin, int64(ptr), 1})
		if n <= 0 {
			if sb.Len() == 0 {
				return "", false
			}
			return sb.String(), true
		}
		b := buf[0]
		if b == '\n' {
			return sb.String(), true
		}
		sb.WriteByte(b)
	}
}

// writeScratch copies s into the scratch page followed by a NUL, since
// the dispatcher reads path arguments as NUL-terminated strings and the
// page still holds bytes from earlier calls.
func writeScratch(sc collab.Syscaller, s string) (collab.VAddr, []byte) {
	ptr, buf := sc.Scratch()
	n := copy(buf, s)
	if n < len(buf) {
		buf[n] = 0
	}
	return ptr, buf
}

func writeString(sc collab.Syscaller, s string) {
	writeBytes(sc, []byte(s))
}

func writeBytes(sc collab.Syscaller, data []byte) {
	ptr, buf := sc.Scratch()
	for len(data) > 0 {
		n := copy(buf, data)
		sc.Syscall(int64(syscallapi.SysWrite), [3]int64{fdStdout, int64(ptr), int64(n)})
		data = data[n:]
	}
}
