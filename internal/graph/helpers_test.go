package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/models"
)

var errBackend = errors.New("connection refused")

// stepClock returns a strictly increasing time on every call
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// flakyCounters fails Adjust whenever fail returns true
type flakyCounters struct {
	CounterStore
	mu   sync.Mutex
	fail func(ref CounterRef, delta int64) bool
}

func (f *flakyCounters) Adjust(ctx context.Context, ref CounterRef, delta int64) (bool, error) {
	f.mu.Lock()
	fail := f.fail != nil && f.fail(ref, delta)
	f.mu.Unlock()
	if fail {
		return false, Unavailable("adjust counter", errBackend)
	}
	return f.CounterStore.Adjust(ctx, ref, delta)
}

func (f *flakyCounters) setFail(fn func(ref CounterRef, delta int64) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// failTimes returns a predicate that matches ref the first n times
func failTimes(ref CounterRef, n int) func(CounterRef, int64) bool {
	return func(r CounterRef, _ int64) bool {
		if r != ref || n == 0 {
			return false
		}
		n--
		return true
	}
}

// flakyEdges injects failures into selected EdgeStore calls
type flakyEdges struct {
	EdgeStore
	mu           sync.Mutex
	removeErrs   []error
	insertErrs   []error
	listErr      error
	insertsSeen  int
	removalsSeen int
}

func (f *flakyEdges) Insert(ctx context.Context, e Edge) error {
	f.mu.Lock()
	f.insertsSeen++
	var err error
	if len(f.insertErrs) > 0 {
		err, f.insertErrs = f.insertErrs[0], f.insertErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.EdgeStore.Insert(ctx, e)
}

func (f *flakyEdges) Remove(ctx context.Context, kind Kind, source, target string) (*Edge, error) {
	f.mu.Lock()
	f.removalsSeen++
	var err error
	if len(f.removeErrs) > 0 {
		err, f.removeErrs = f.removeErrs[0], f.removeErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.EdgeStore.Remove(ctx, kind, source, target)
}

func (f *flakyEdges) ListBySource(ctx context.Context, kind Kind, source string) ([]Edge, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.EdgeStore.ListBySource(ctx, kind, source)
}

func (f *flakyEdges) ListByTarget(ctx context.Context, kind Kind, target string) ([]Edge, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.EdgeStore.ListByTarget(ctx, kind, target)
}

type fixture struct {
	store    *MemStore
	edges    *flakyEdges
	counters *flakyCounters
	svc      *Service
	views    *ViewBuilder
	bus      *Broadcaster
	clock    *stepClock
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := NewMemStore()
	f := &fixture{
		store:    store,
		edges:    &flakyEdges{EdgeStore: store},
		counters: &flakyCounters{CounterStore: store},
		bus:      NewBroadcaster(logger),
		clock:    newStepClock(),
	}

	opts := DefaultOptions()
	opts.CompensationBackoff = time.Millisecond
	opts.Now = f.clock.Now
	for _, fn := range configure {
		fn(&opts)
	}
	f.svc = NewService(f.edges, store, NewCounterMaintainer(f.counters, logger), f.bus, NewKeyedMutex(), opts, logger)
	f.views = NewViewBuilder(f.edges, store, time.Second, logger)
	return f
}

func (f *fixture) addUser(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	f.store.PutUser(models.User{ID: id, Name: name, Username: name, Email: name + "@example.com"})
	return id
}

func (f *fixture) addItem(t *testing.T, ownerID, title string) string {
	t.Helper()
	id := uuid.NewString()
	f.store.PutItem(models.Item{ID: id, OwnerID: ownerID, Title: title, Tags: []string{"casual"}})
	return id
}

func (f *fixture) followCounts(t *testing.T, id string) (followers, following int64) {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.FollowersCount, u.FollowingCount
}

func (f *fixture) likeCount(t *testing.T, id string) int64 {
	t.Helper()
	it, err := f.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, it)
	return it.LikesCount
}

// requireConsistent checks every counter against the edges it summarizes
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	userIDs, err := f.store.ListUserIDs(ctx, "", 0)
	require.NoError(t, err)
	for _, id := range userIDs {
		followers, following := f.followCounts(t, id)
		inbound, err := f.store.CountByTarget(ctx, KindFollow, id)
		require.NoError(t, err)
		outbound, err := f.store.CountBySource(ctx, KindFollow, id)
		require.NoError(t, err)
		require.Equal(t, inbound, followers, "followers of %s", id)
		require.Equal(t, outbound, following, "following of %s", id)
	}

	itemIDs, err := f.store.ListItemIDs(ctx, "", 0)
	require.NoError(t, err)
	for _, id := range itemIDs {
		likes, err := f.store.CountByTarget(ctx, KindLike, id)
		require.NoError(t, err)
		require.Equal(t, likes, f.likeCount(t, id), "likes of %s", id)
	}
}
