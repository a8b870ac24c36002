package collab

import "github.com/sasha-s/go-deadlock"

// SimFrameAllocator hands out frame ids from a fixed-size pool, standing
// in for the real bootloader-supplied physical memory map.
type SimFrameAllocator struct {
	mu     deadlock.Mutex
	free   []Frame
	total  int
	memory map[Frame][]byte
}

// NewSimFrameAllocator seeds a pool of n frames, numbered from 1 (frame
// 0 is reserved as a sentinel "no frame").
func NewSimFrameAllocator(n int) *SimFrameAllocator {
	free := make([]Frame, n)
	memory := make(map[Frame][]byte, n)
	for i := 0; i < n; i++ {
		f := Frame(i + 1)
		free[i] = f
		memory[f] = make([]byte, PageSize)
	}
	return &SimFrameAllocator{free: free, total: n, memory: memory}
}

func (a *SimFrameAllocator) AllocFrame() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, ErrOutOfFrames
	}
	n := len(a.free) - 1
	f := a.free[n]
	a.free = a.free[:n]
	return f, nil
}

func (a *SimFrameAllocator) FreeFrame(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, f)
}

func (a *SimFrameAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// TotalFrames reports the pool size, used by tests asserting no leaks.
func (a *SimFrameAllocator) TotalFrames() int { return a.total }

// Bytes returns the frame's 4 KiB backing storage.
func (a *SimFrameAllocator) Bytes(f Frame) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory[f]
}
