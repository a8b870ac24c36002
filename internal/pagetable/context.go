// Package pagetable implements PageTableContext (spec component B): a
// process's root page table, the clone/fork operations that spawn and
// duplicate address-space views, and a simulated CR3 register that
// tracks which root is "loaded" on the single CPU.
package pagetable

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/collab"
)

// CR3 stands in for the CPU's page-table base register: exactly one
// root is loaded at any moment, matching spec.md's invariant that
// "exactly one page table is loaded in CR3 at any moment."
type CR3 struct {
	mu     deadlock.Mutex
	loaded collab.PageTableRoot
}

func (r *CR3) Write(root collab.PageTableRoot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = root
}

func (r *CR3) Read() collab.PageTableRoot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Context owns a root page table plus a reference count, matching
// spec.md's PageTableContext. In this hosted simulation the mapper
// mints a fresh root id for every clone or fork (sharing the kernel
// half internally, see internal/collab.SimPageMapper), so the
// reference count here is always 1: DropRoot always releases exactly
// this Context's own bookkeeping. It is kept, rather than removed, to
// preserve the shape of the original data model for callers that want
// to observe it (see DESIGN.md's Open Question resolution).
type Context struct {
	root   collab.PageTableRoot
	refs   int32
	mapper collab.PageMapper
}

// New allocates a fresh root with kernel-half mappings populated from
// the boot page set, per spec.md §4.B's new().
func New(mapper collab.PageMapper, kernelPages []collab.VAddr, alloc collab.FrameAllocator) (*Context, error) {
	root := mapper.NewRoot()
	c := &Context{root: root, refs: 1, mapper: mapper}
	for _, va := range kernelPages {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return nil, err
		}
		flags := collab.PTEFlags{Present: true, Writable: true, User: false, NoExec: false}
		if err := mapper.Map(root, va, frame, flags); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load writes this context's root to the simulated CR3 register.
func (c *Context) Load(cr3 *CR3) { cr3.Write(c.root) }

// CloneL4 returns a new context sharing this one's kernel-half
// mappings but starting with an empty user half — the cheap view used
// when spawning a new process.
func (c *Context) CloneL4() *Context {
	newRoot := c.mapper.CloneRoot(c.root)
	return &Context{root: newRoot, refs: 1, mapper: c.mapper}
}

// Fork returns a new context sharing this one's kernel-half mappings
// but deep-copying the user half onto freshly allocated frames.
func (c *Context) Fork(alloc collab.FrameAllocator) (*Context, error) {
	newRoot, err := c.mapper.ForkRoot(c.root, alloc)
	if err != nil {
		return nil, err
	}
	return &Context{root: newRoot, refs: 1, mapper: c.mapper}, nil
}

// Mapper yields a handle suitable for passing to the page-mapper
// collaborator.
func (c *Context) Mapper() collab.PageMapper { return c.mapper }

// Root returns the opaque root handle, for collaborator calls that
// need it directly (stack/heap mapping, ELF loading).
func (c *Context) Root() collab.PageTableRoot { return c.root }

// AddRef/Release track additional logical owners of this context
// beyond its creator, for parity with spec.md's "shared reference
// count"; Release drops the mapper's bookkeeping once the count
// reaches zero.
func (c *Context) AddRef() { atomic.AddInt32(&c.refs, 1) }

func (c *Context) Release() {
	if atomic.AddInt32(&c.refs, -1) <= 0 {
		c.mapper.DropRoot(c.root)
	}
}
