package runtime

import (
	"context"
	"sync"
)

// turnLocks hands out one lock per conversation id. Waiters are served in
// the order they called acquire, and an id's entry is dropped once nobody
// holds or waits for it.
type turnLocks struct {
	mu   sync.Mutex
	byID map[string]*turnLock
}

type turnLock struct {
	held    bool
	refs    int
	waiters []chan struct{}
}

func newTurnLocks() *turnLocks {
	return &turnLocks{byID: make(map[string]*turnLock)}
}

// acquire blocks until conversationID is free or ctx ends. On success the
// returned func releases the lock to the next waiter.
func (l *turnLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.byID[conversationID]
	if !ok {
		tl = &turnLock{}
		l.byID[conversationID] = tl
	}
	tl.refs++
	if !tl.held {
		tl.held = true
		l.mu.Unlock()
		return l.releaser(conversationID, tl), nil
	}
	ready := make(chan struct{})
	tl.waiters = append(tl.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.releaser(conversationID, tl), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-ready:
		// Handed over while giving up: pass it on.
		l.mu.Unlock()
		l.release(conversationID, tl)
		return nil, ctx.Err()
	default:
	}
	for i, w := range tl.waiters {
		if w == ready {
			tl.waiters = append(tl.waiters[:i], tl.waiters[i+1:]...)
			break
		}
	}
	l.drop(conversationID, tl)
	l.mu.Unlock()
	return nil, ctx.Err()
}

func (l *turnLocks) releaser(conversationID string, tl *turnLock) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(conversationID, tl) }) }
}

func (l *turnLocks) release(conversationID string, tl *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(tl.waiters) > 0 {
		next := tl.waiters[0]
		tl.waiters = tl.waiters[1:]
		close(next)
	} else {
		tl.held = false
	}
	l.drop(conversationID, tl)
}

// drop must be called with l.mu held.
func (l *turnLocks) drop(conversationID string, tl *turnLock) {
	tl.refs--
	if tl.refs == 0 {
		delete(l.byID, conversationID)
	}
}

// waiting reports how many turns are queued behind the running one.
func (l *turnLocks) waiting(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, ok := l.byID[conversationID]; ok {
		return len(tl.waiters)
	}
	return 0
}

// size is the number of ids currently tracked.
func (l *turnLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}
