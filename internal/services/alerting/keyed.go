package alerting

import (
	"sync"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

// pairLocks serializes work per (target, kind) and drops idle entries.
type pairLocks struct {
	mu    sync.Mutex
	locks map[target.Pair]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[target.Pair]*pairLock)}
}

func (l *pairLocks) lock(p target.Pair) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[p]
	if !ok {
		pl = &pairLock{}
		l.locks[p] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, p)
		}
		l.mu.Unlock()
	}
}

func (l *pairLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
