package collab_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iansmith/mazkern/internal/collab"
)

// buildMinimalELF hand-assembles a tiny valid ELF64 executable with a
// single PT_LOAD|PF_X segment, for exercising ELFLoader without a real
// toolchain-built binary.
func buildMinimalELF(vaddr uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	const codeSize = 8
	entry := vaddr + ehdrSize + phdrSize

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
		Off:    0,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: ehdrSize + phdrSize + codeSize,
		Memsz:  ehdrSize + phdrSize + codeSize,
		Align:  0x1000,
	}

	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, hdr)
	binary.Write(buf, binary.LittleEndian, prog)
	buf.Write(make([]byte, codeSize))
	return buf.Bytes()
}

func TestLoadSegmentsMapsCodePages(t *testing.T) {
	image := buildMinimalELF(0x40_0000)

	alloc := collab.NewSimFrameAllocator(16)
	mapper := collab.NewSimPageMapper()
	root := mapper.NewRoot()
	var loader collab.ELFLoader

	entry, codePages, err := loader.LoadSegments(image, root, mapper, alloc, true)
	require.NoError(t, err)
	require.EqualValues(t, 0x40_0000+64+56, entry)
	require.Equal(t, 1, codePages)

	frame, flags, ok := mapper.Translate(root, 0x40_0000)
	require.True(t, ok)
	require.True(t, flags.Present)
	require.True(t, flags.User)
	require.False(t, flags.Writable)

	// the code bytes at the image's start (the ELF header magic) must
	// have been copied into the mapped frame's backing storage
	require.Equal(t, byte(0x7f), alloc.Bytes(frame)[0])
}
