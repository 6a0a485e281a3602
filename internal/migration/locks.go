package migration

import "sync"

type lockKey struct {
	schema  string
	tableID int64
}

// tableLocks is the in-process advisory lock preventing two concurrent
// migrations of the same logical table. Nothing coordinates migrations
// across processes; callers must serialize scheduling externally.
type tableLocks struct {
	mu   sync.Mutex
	held map[lockKey]struct{}
}

func newTableLocks() *tableLocks {
	return &tableLocks{held: make(map[lockKey]struct{})}
}

// tryAcquire attempts to take the lock without blocking.
func (l *tableLocks) tryAcquire(schema string, tableID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey{schema: schema, tableID: tableID}
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *tableLocks) release(schema string, tableID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockKey{schema: schema, tableID: tableID})
}
