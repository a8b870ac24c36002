// Package semaphore implements SemaphoreSet (spec component G): keyed
// counting semaphores with FIFO wait queues of process ids.
package semaphore

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/procid"
)

// WaitResult is the outcome of a Wait call.
type WaitResult int

const (
	WaitOK WaitResult = iota
	WaitBlock
	WaitNotExist
)

// SignalResult is the outcome of a Signal call.
type SignalResult int

const (
	SignalOK SignalResult = iota
	SignalWake
	SignalNotExist
)

type semState struct {
	count   int64
	waiters []procid.ProcessId
}

// Set is a process's semaphore set, keyed by an arbitrary u32.
type Set struct {
	mu   deadlock.Mutex
	sems map[uint32]*semState
}

func NewSet() *Set {
	return &Set{sems: make(map[uint32]*semState)}
}

// Insert stores a new semaphore at key with the given initial count.
// Returns false if key already exists.
func (s *Set) Insert(key uint32, initial int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sems[key]; ok {
		return false
	}
	s.sems[key] = &semState{count: initial}
	return true
}

// Remove deletes the semaphore at key. Returns false if the key is
// absent or still has blocked waiters — removing out from under a
// blocked process would orphan it with no wakeup path.
func (s *Set) Remove(key uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sems[key]
	if !ok || len(st.waiters) > 0 {
		return false
	}
	delete(s.sems, key)
	return true
}

// Wait decrements the semaphore's count. If the count after
// decrementing is still >= 0 the caller proceeds immediately (WaitOK);
// otherwise pid is enqueued at the tail of the waiters list (WaitBlock).
func (s *Set) Wait(key uint32, pid procid.ProcessId) WaitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sems[key]
	if !ok {
		return WaitNotExist
	}
	st.count--
	if st.count >= 0 {
		return WaitOK
	}
	st.waiters = append(st.waiters, pid)
	return WaitBlock
}

// Signal increments the semaphore's count. If the count after
// incrementing is still <= 0, the head of the waiters list is dequeued
// and returned for the caller to wake (SignalWake).
func (s *Set) Signal(key uint32) (SignalResult, procid.ProcessId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sems[key]
	if !ok {
		return SignalNotExist, 0
	}
	st.count++
	if st.count <= 0 {
		if len(st.waiters) == 0 {
			return SignalOK, 0
		}
		pid := st.waiters[0]
		st.waiters = st.waiters[1:]
		return SignalWake, pid
	}
	return SignalOK, 0
}

// Clone copies the key/count mapping for a fork, per spec.md §9's
// decision to model semaphores as process-local: waiter queues are not
// carried over, only the counts.
func (s *Set) Clone() *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := NewSet()
	for k, st := range s.sems {
		out.sems[k] = &semState{count: st.count}
	}
	return out
}
