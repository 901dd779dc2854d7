package core

import (
	"context"
	"sync"
)

// ChatLocks serializes chat turns per chat id so two sends to one chat cannot interleave their
// history reads and AI appends. Entries are dropped once nobody holds or waits for them.
type ChatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{locks: make(map[string]*chatLock)}
}

// Lock blocks until the chat is free or ctx is done. The returned func releases the lock.
func (l *ChatLocks) Lock(ctx context.Context, chatID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{sem: make(chan struct{}, 1)}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.release(chatID, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(chatID, entry)
		return nil, ctx.Err()
	}
}

func (l *ChatLocks) release(chatID string, entry *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, chatID)
	}
}
