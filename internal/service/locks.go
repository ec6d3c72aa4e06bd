package service

import "sync"

// sessionLocks 按 session_id 分配的互斥锁，无人持有时回收
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*refLock)}
}

// Lock 获取会话锁，返回解锁函数
func (l *sessionLocks) Lock(sessionID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &refLock{}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
