package chat

import (
	"sync"

	"github.com/nhle/jobchat/internal/model"
)

// keyLocker hands out one mutex per conversation key. Entries are dropped
// once no goroutine holds or waits on them.
type keyLocker struct {
	mu    sync.Mutex
	locks map[model.ConversationKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[model.ConversationKey]*keyLock)}
}

// lock blocks until key is free and returns its unlock func.
func (l *keyLocker) lock(key model.ConversationKey) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// size returns the number of keys currently tracked.
func (l *keyLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
