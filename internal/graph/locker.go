package graph

import (
	"context"
	"sync"
)

// Locker serializes operations on one relationship pair. It is only needed
// when the backend cannot arbitrate interleaved toggles on its own.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PairKey builds the serialization key for (kind, min(a,b), max(a,b))
func PairKey(kind Kind, a, b string) string {
	return string(kind) + ":" + min(a, b) + ":" + max(a, b)
}

// NopLocker never blocks
type NopLocker struct{}

var _ Locker = NopLocker{}

// Lock returns immediately.
func (NopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// KeyedMutex is an in-process Locker with one mutex per key. Entries are
// reference counted and dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*KeyedMutex)(nil)

// NewKeyedMutex creates an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or awaited
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
