package audit

import "sync"

// taskLocks hands out one mutex per task ID. Entries are reference counted
// and dropped when the last holder unlocks, so the map only holds tasks that
// are being mutated right now.
type taskLocks struct {
	mu    sync.Mutex
	locks map[int64]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[int64]*taskLock)}
}

// lock blocks until the caller owns taskID and returns the matching unlock
func (l *taskLocks) lock(taskID int64) func() {
	l.mu.Lock()
	tl, ok := l.locks[taskID]
	if !ok {
		tl = &taskLock{}
		l.locks[taskID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()

	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, taskID)
		}
		l.mu.Unlock()
	}
}

func (l *taskLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
