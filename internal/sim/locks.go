package sim

import "sync"

// ShiftLocks serializes work on a single shift. Entries are dropped once no
// goroutine holds or waits for them.
type ShiftLocks struct {
	mu    sync.Mutex
	locks map[string]*shiftLock
}

type shiftLock struct {
	sync.Mutex
	refs int
}

func NewShiftLocks() *ShiftLocks {
	return &ShiftLocks{locks: make(map[string]*shiftLock)}
}

// Lock blocks until the shift is free and returns its unlock func.
func (l *ShiftLocks) Lock(shiftID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[shiftID]
	if !ok {
		sl = &shiftLock{}
		l.locks[shiftID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, shiftID)
		}
		l.mu.Unlock()
	}
}
