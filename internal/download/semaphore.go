package download

import "sync"

// semaphore is a resizable counting semaphore: Acquire blocks until fewer
// than the current capacity holders are active, Release frees a slot, and
// SetCapacity changes the limit for future Acquire calls without touching
// holders that already have a slot.
type semaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
}

func newSemaphore(capacity int) *semaphore {
	if capacity < 1 {
		capacity = 1
	}
	s := &semaphore{capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a slot is available, then takes it.
func (s *semaphore) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inUse >= s.capacity {
		s.cond.Wait()
	}
	s.inUse++
}

// Release frees a slot and wakes one waiter, if any.
func (s *semaphore) Release() {
	s.mu.Lock()
	s.inUse--
	s.mu.Unlock()
	s.cond.Signal()
}

// SetCapacity changes the limit; already-running holders keep their slot,
// only future Acquire calls observe the new capacity.
func (s *semaphore) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	s.mu.Lock()
	s.capacity = capacity
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Capacity returns the current limit.
func (s *semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}
