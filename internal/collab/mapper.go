package collab

import "github.com/sasha-s/go-deadlock"

type entry struct {
	frame Frame
	flags PTEFlags
}

// pageSet is a table of virtual-to-physical mappings.
type pageSet struct {
	mu       deadlock.RWMutex
	mappings map[VAddr]entry
}

func newPageSet() *pageSet { return &pageSet{mappings: make(map[VAddr]entry)} }

// rootState is what a PageTableRoot id points at: a private user-half
// pageSet plus a (possibly shared) kernel-half pageSet, mirroring how a
// real L4 table's upper entries point at shared kernel page tables
// while the lower entries are private to the process.
type rootState struct {
	kernel *pageSet
	user   *pageSet
}

// SimPageMapper is an in-memory stand-in for the real page mapper
// collaborator: roots are ids, and each root's kernel half is shared
// by aliasing the same pageSet while the user half is private, exactly
// what spec.md §4.B's clone_l4/fork describe for PageTableContext.
type SimPageMapper struct {
	mu       deadlock.Mutex
	nextRoot PageTableRoot
	roots    map[PageTableRoot]*rootState
}

func NewSimPageMapper() *SimPageMapper {
	return &SimPageMapper{roots: make(map[PageTableRoot]*rootState)}
}

// NewRoot allocates a root with a fresh, private kernel-half pageSet —
// used exactly once, for the kernel's own PageTableContext, which every
// other process's root then clones the kernel half of.
func (m *SimPageMapper) NewRoot() PageTableRoot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoot++
	root := m.nextRoot
	m.roots[root] = &rootState{kernel: newPageSet(), user: newPageSet()}
	return root
}

// CloneRoot returns a new root that aliases src's kernel-half mappings
// and starts with an empty, private user half — the cheap "view" used
// when spawning a new process (spec.md's clone_l4).
func (m *SimPageMapper) CloneRoot(src PageTableRoot) PageTableRoot {
	m.mu.Lock()
	defer m.mu.Unlock()
	srcState := m.roots[src]
	m.nextRoot++
	root := m.nextRoot
	m.roots[root] = &rootState{kernel: srcState.kernel, user: newPageSet()}
	return root
}

// ForkRoot aliases src's kernel half and deep-copies its user half onto
// freshly allocated frames, matching spec.md's fork().
func (m *SimPageMapper) ForkRoot(src PageTableRoot, alloc FrameAllocator) (PageTableRoot, error) {
	m.mu.Lock()
	srcState := m.roots[src]
	m.mu.Unlock()

	srcState.user.mu.RLock()
	snapshot := make(map[VAddr]entry, len(srcState.user.mappings))
	for va, e := range srcState.user.mappings {
		snapshot[va] = e
	}
	srcState.user.mu.RUnlock()

	newUser := newPageSet()
	for va, e := range snapshot {
		nf, err := alloc.AllocFrame()
		if err != nil {
			for _, copied := range newUser.mappings {
				alloc.FreeFrame(copied.frame)
			}
			return 0, err
		}
		copy(alloc.Bytes(nf), alloc.Bytes(e.frame))
		newUser.mappings[va] = entry{frame: nf, flags: e.flags}
	}

	m.mu.Lock()
	m.nextRoot++
	root := m.nextRoot
	m.roots[root] = &rootState{kernel: srcState.kernel, user: newUser}
	m.mu.Unlock()
	return root, nil
}

// DropRoot releases a root's private user-half bookkeeping. The shared
// kernel pageSet is left untouched since other roots alias it.
func (m *SimPageMapper) DropRoot(root PageTableRoot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roots, root)
}

func (m *SimPageMapper) sets(root PageTableRoot) *rootState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roots[root]
}

func (m *SimPageMapper) setFor(root PageTableRoot, flags PTEFlags) *pageSet {
	st := m.sets(root)
	if !flags.User {
		return st.kernel
	}
	return st.user
}

func (m *SimPageMapper) Map(root PageTableRoot, vaddr VAddr, frame Frame, flags PTEFlags) error {
	ps := m.setFor(root, flags)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.mappings[PageOf(vaddr)] = entry{frame: frame, flags: flags}
	return nil
}

// Unmap removes any mapping for vaddr, checking the user half first
// (the common case) and falling back to the kernel half.
func (m *SimPageMapper) Unmap(root PageTableRoot, vaddr VAddr) error {
	st := m.sets(root)
	page := PageOf(vaddr)

	st.user.mu.Lock()
	if _, ok := st.user.mappings[page]; ok {
		delete(st.user.mappings, page)
		st.user.mu.Unlock()
		return nil
	}
	st.user.mu.Unlock()

	st.kernel.mu.Lock()
	defer st.kernel.mu.Unlock()
	if _, ok := st.kernel.mappings[page]; !ok {
		return ErrNotMapped
	}
	delete(st.kernel.mappings, page)
	return nil
}

func (m *SimPageMapper) Translate(root PageTableRoot, vaddr VAddr) (Frame, PTEFlags, bool) {
	st := m.sets(root)
	page := PageOf(vaddr)

	st.user.mu.RLock()
	if e, ok := st.user.mappings[page]; ok {
		st.user.mu.RUnlock()
		return e.frame, e.flags, true
	}
	st.user.mu.RUnlock()

	st.kernel.mu.RLock()
	defer st.kernel.mu.RUnlock()
	e, ok := st.kernel.mappings[page]
	return e.frame, e.flags, ok
}
