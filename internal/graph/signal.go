package graph

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Signal tells subscribers that a relationship touching them changed. It
// carries no counter values; consumers re-read through the views.
type Signal struct {
	Kind   Kind      `json:"kind"`
	Actor  string    `json:"actor"`
	Target string    `json:"target"`
	Action Action    `json:"action"`
	At     time.Time `json:"at"`
}

// Notifier receives a Signal after every successful transition. Notify must
// not block the caller for long and must not report errors back into the
// transition.
type Notifier interface {
	Notify(ctx context.Context, s Signal)
}

// NopNotifier drops every signal
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, Signal) {}

// Notifiers fans a signal out to several notifiers in order.
type Notifiers []Notifier

// Notify forwards s to each notifier.
func (ns Notifiers) Notify(ctx context.Context, s Signal) {
	for _, n := range ns {
		n.Notify(ctx, s)
	}
}

// Broadcaster delivers signals to in-process subscribers keyed by user id.
// Both the actor and the target of a signal are notified.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func(Signal)
	nextID uint64
	logger *zap.Logger
}

var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[uint64]func(Signal)),
		logger: logger,
	}
}

// Subscribe registers fn for signals involving id. The returned function
// removes the subscription and is safe to call more than once.
func (b *Broadcaster) Subscribe(id string, fn func(Signal)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	handle := b.nextID
	if b.subs[id] == nil {
		b.subs[id] = make(map[uint64]func(Signal))
	}
	b.subs[id][handle] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[id], handle)
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
		})
	}
}

// Notify delivers s asynchronously to subscribers of the actor and target.
func (b *Broadcaster) Notify(_ context.Context, s Signal) {
	b.mu.RLock()
	var fns []func(Signal)
	for _, id := range []string{s.Actor, s.Target} {
		for _, fn := range b.subs[id] {
			fns = append(fns, fn)
		}
		if s.Actor == s.Target {
			break
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		go b.deliver(fn, s)
	}
}

func (b *Broadcaster) deliver(fn func(Signal), s Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Signal subscriber panicked",
				zap.Any("panic", r),
				zap.String("kind", string(s.Kind)),
				zap.String("action", string(s.Action)))
		}
	}()
	fn(s)
}

// Subscribers returns how many subscriptions exist for id
func (b *Broadcaster) Subscribers(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}
