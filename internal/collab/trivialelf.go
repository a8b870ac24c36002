package collab

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// NewTrivialImage builds a minimal valid ELF64 executable with a
// single PT_LOAD|PF_R|PF_X segment at loadVAddr. Every boot-time app in
// this hosted simulation has its real behavior supplied by a
// ProgramFunc closure rather than machine code the CPU fetches, but
// code_segment_pages/brk/stack layout still need a real, loadable ELF
// image behind the AppEntry to exercise — this produces one.
func NewTrivialImage(loadVAddr uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	entry := loadVAddr + ehdrSize + phdrSize

	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  loadVAddr,
		Paddr:  loadVAddr,
		Filesz: ehdrSize + phdrSize,
		Memsz:  ehdrSize + phdrSize,
		Align:  PageSize,
	}

	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, hdr)
	binary.Write(buf, binary.LittleEndian, prog)
	return buf.Bytes()
}
