package collab

import (
	"bytes"
	"debug/elf"
)

// ELFLoader parses real ELF64 images with the standard library's
// debug/elf package and maps their PT_LOAD segments page by page. No
// third-party ELF parser appears anywhere in the retrieval pack, so
// this one component is grounded on the standard library rather than
// an ecosystem dependency (see DESIGN.md).
type ELFLoader struct{}

func (ELFLoader) LoadSegments(image []byte, root PageTableRoot, mapper PageMapper, alloc FrameAllocator, userAccess bool) (VAddr, int, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	codePages := 0
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		start := VAddr(PageOf(VAddr(prog.Vaddr)))
		end := VAddr(prog.Vaddr + prog.Memsz)
		writable := prog.Flags&elf.PF_W != 0
		execOnly := prog.Flags&elf.PF_X != 0 && prog.Flags&elf.PF_W == 0

		data := make([]byte, prog.Memsz)
		n, rerr := prog.ReadAt(data[:prog.Filesz], 0)
		if rerr != nil && n != int(prog.Filesz) {
			return 0, 0, rerr
		}

		for va := start; va < end; va += PageSize {
			frame, aerr := alloc.AllocFrame()
			if aerr != nil {
				return 0, 0, aerr
			}
			lo := int64(va) - int64(prog.Vaddr)
			hi := lo + PageSize
			dst := alloc.Bytes(frame)
			for i := int64(0); i < PageSize; i++ {
				srcIdx := lo + i
				if srcIdx >= 0 && srcIdx < int64(len(data)) && lo+i < hi {
					dst[i] = data[srcIdx]
				}
			}
			flags := PTEFlags{Present: true, Writable: writable, User: userAccess, NoExec: !execOnly && !writable}
			if err := mapper.Map(root, va, frame, flags); err != nil {
				return 0, 0, err
			}
			if prog.Flags&elf.PF_X != 0 {
				codePages++
			}
		}
	}

	return VAddr(f.Entry), codePages, nil
}
