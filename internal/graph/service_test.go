package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUnfollowRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	edge, err := f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, KindFollow, edge.Kind)
	assert.Equal(t, alice, edge.Source)
	assert.Equal(t, bob, edge.Target)

	_, following := f.followCounts(t, alice)
	followers, _ := f.followCounts(t, bob)
	assert.Equal(t, int64(1), following)
	assert.Equal(t, int64(1), followers)

	status, err := f.svc.IsFollowing(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, status.Related)
	require.NotNil(t, status.Since)
	assert.True(t, status.Since.Equal(edge.CreatedAt))

	reverse, err := f.svc.IsFollowing(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, reverse.Related)
	assert.Nil(t, reverse.Since)

	require.NoError(t, f.svc.Unfollow(ctx, alice, bob))
	_, following = f.followCounts(t, alice)
	followers, _ = f.followCounts(t, bob)
	assert.Zero(t, following)
	assert.Zero(t, followers)

	status, err = f.svc.IsFollowing(ctx, alice, bob)
	require.NoError(t, err)
	assert.False(t, status.Related)
	f.requireConsistent(t)
}

func TestLikeUnlikeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "owner")
	fan := f.addUser(t, "fan")
	item := f.addItem(t, owner, "denim jacket")

	_, err := f.svc.Like(ctx, fan, item)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.likeCount(t, item))

	status, err := f.svc.IsLiked(ctx, fan, item)
	require.NoError(t, err)
	assert.True(t, status.Related)

	require.NoError(t, f.svc.Unlike(ctx, fan, item))
	assert.Zero(t, f.likeCount(t, item))
	f.requireConsistent(t)
}

func TestFollowRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	carol := f.addUser(t, "carol")
	_, err := f.svc.Follow(ctx, alice, carol)
	require.NoError(t, err)

	tests := []struct {
		name     string
		run      func() error
		code     Code
		sentinel error
	}{
		{"empty follower", func() error { _, err := f.svc.Follow(ctx, "", bob); return err }, CodeInvalidArgument, ErrInvalidArgument},
		{"malformed followee", func() error { _, err := f.svc.Follow(ctx, alice, "not-a-uuid"); return err }, CodeInvalidArgument, ErrInvalidArgument},
		{"self follow", func() error { _, err := f.svc.Follow(ctx, alice, alice); return err }, CodeSelfReference, ErrSelfReference},
		{"unknown followee", func() error { _, err := f.svc.Follow(ctx, alice, uuid.NewString()); return err }, CodeNotFound, ErrNotFound},
		{"unknown follower", func() error { _, err := f.svc.Follow(ctx, uuid.NewString(), bob); return err }, CodeNotFound, ErrNotFound},
		{"already following", func() error { _, err := f.svc.Follow(ctx, alice, carol); return err }, CodeConflict, ErrAlreadyFollowing},
		{"unfollow not following", func() error { return f.svc.Unfollow(ctx, alice, bob) }, CodeConflict, ErrNotFollowing},
		{"self unfollow", func() error { return f.svc.Unfollow(ctx, bob, bob) }, CodeSelfReference, ErrSelfReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
			f.requireConsistent(t)
		})
	}

	_, following := f.followCounts(t, alice)
	assert.Equal(t, int64(1), following)
}

func TestLikeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "owner")
	fan := f.addUser(t, "fan")
	item := f.addItem(t, owner, "linen shirt")
	other := f.addItem(t, owner, "wool coat")
	_, err := f.svc.Like(ctx, fan, other)
	require.NoError(t, err)

	tests := []struct {
		name     string
		run      func() error
		code     Code
		sentinel error
	}{
		{"malformed item", func() error { _, err := f.svc.Like(ctx, fan, "42"); return err }, CodeInvalidArgument, ErrInvalidArgument},
		{"unknown item", func() error { _, err := f.svc.Like(ctx, fan, uuid.NewString()); return err }, CodeNotFound, ErrNotFound},
		{"unknown user", func() error { _, err := f.svc.Like(ctx, uuid.NewString(), item); return err }, CodeNotFound, ErrNotFound},
		{"own item", func() error { _, err := f.svc.Like(ctx, owner, item); return err }, CodeSelfReference, ErrSelfReference},
		{"already liked", func() error { _, err := f.svc.Like(ctx, fan, other); return err }, CodeConflict, ErrAlreadyLiked},
		{"unlike not liked", func() error { return f.svc.Unlike(ctx, fan, item) }, CodeConflict, ErrNotLiked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}

	assert.Zero(t, f.likeCount(t, item))
	assert.Equal(t, int64(1), f.likeCount(t, other))
	f.requireConsistent(t)
}

func TestLikeOwnItemAllowedWhenPolicyDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RejectOwnItemLikes = false })
	owner := f.addUser(t, "owner")
	item := f.addItem(t, owner, "sneakers")

	_, err := f.svc.Like(context.Background(), owner, item)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.likeCount(t, item))
}

func TestUnlikeOwnItemAfterPolicyEnabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RejectOwnItemLikes = false })
	ctx := context.Background()
	owner := f.addUser(t, "owner")
	item := f.addItem(t, owner, "canvas tote")

	_, err := f.svc.Like(ctx, owner, item)
	require.NoError(t, err)
	f.svc.opts.RejectOwnItemLikes = true

	require.NoError(t, f.svc.Unlike(ctx, owner, item))
	status, err := f.svc.IsLiked(ctx, owner, item)
	require.NoError(t, err)
	assert.False(t, status.Related)
	assert.Zero(t, f.likeCount(t, item))
	f.requireConsistent(t)

	_, err = f.svc.Like(ctx, owner, item)
	assert.ErrorIs(t, err, ErrSelfReference)
}

func TestSelfFollowStatusIsFalse(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")

	status, err := f.svc.IsFollowing(context.Background(), alice, alice)
	require.NoError(t, err)
	assert.False(t, status.Related)
	assert.Nil(t, status.Since)
}

func TestIdentifiersAreCanonicalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	_, err := f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)

	_, err = f.svc.Follow(ctx, alice, "urn:uuid:"+bob)
	assert.ErrorIs(t, err, ErrAlreadyFollowing)
	f.requireConsistent(t)
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	item := f.addItem(t, bob, "scarf")

	tests := []struct {
		action  Action
		target  string
		outcome Action
	}{
		{ActionFollow, bob, ActionFollowed},
		{ActionLike, item, ActionLiked},
		{ActionUnlike, item, ActionUnliked},
		{ActionUnfollow, bob, ActionUnfollowed},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			outcome, err := f.svc.Apply(ctx, tt.action, alice, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, outcome)
		})
	}

	_, err := f.svc.Apply(ctx, Action("block"), alice, bob)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))

	outcome, err := f.svc.Apply(ctx, ActionUnfollow, alice, bob)
	assert.ErrorIs(t, err, ErrNotFollowing)
	assert.Empty(t, outcome)
	f.requireConsistent(t)
}

func TestFollowSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)
	f.requireConsistent(t)
}

func TestConcurrentFollowsOfOnePairHaveOneWinner(t *testing.T) {
	for _, locker := range []struct {
		name   string
		locker Locker
	}{
		{"no locking", NopLocker{}},
		{"local locking", NewKeyedMutex()},
	} {
		t.Run(locker.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.locker = locker.locker
			alice := f.addUser(t, "alice")
			bob := f.addUser(t, "bob")

			const callers = 50
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Follow(context.Background(), alice, bob)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrAlreadyFollowing):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, callers-1, conflicts)
			followers, _ := f.followCounts(t, bob)
			assert.Equal(t, int64(1), followers)
			f.requireConsistent(t)
		})
	}
}

func TestInterleavedTogglesKeepCountersConsistent(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	item := f.addItem(t, bob, "boots")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.svc.Follow(context.Background(), alice, bob)
			} else {
				_ = f.svc.Unfollow(context.Background(), alice, bob)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.svc.Like(context.Background(), alice, item)
			} else {
				_ = f.svc.Unlike(context.Background(), alice, item)
			}
		}(i)
	}
	wg.Wait()

	f.requireConsistent(t)
}

func TestFollowRollsBackEdgeWhenCounterUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	f.counters.setFail(failTimes(CounterRef{FieldFollowers, bob}, 1))

	_, err := f.svc.Follow(ctx, alice, bob)
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.True(t, Retryable(err))

	status, err := f.svc.IsFollowing(ctx, alice, bob)
	require.NoError(t, err)
	assert.False(t, status.Related, "edge must be rolled back")
	f.requireConsistent(t)

	// the retry succeeds once the backend recovers
	_, err = f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)
	f.requireConsistent(t)
}

func TestLikeRollsBackEdgeWhenCounterUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "owner")
	fan := f.addUser(t, "fan")
	item := f.addItem(t, owner, "beanie")
	f.counters.setFail(failTimes(CounterRef{FieldLikes, item}, 1))

	_, err := f.svc.Like(ctx, fan, item)
	assert.Equal(t, CodeUnavailable, CodeOf(err))

	status, err := f.svc.IsLiked(ctx, fan, item)
	require.NoError(t, err)
	assert.False(t, status.Related)
	f.requireConsistent(t)
}

func TestFollowRollbackRetriesBeforeSucceeding(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	f.counters.setFail(failTimes(CounterRef{FieldFollowing, alice}, 1))
	f.edges.removeErrs = []error{Unavailable("remove edge", errBackend), Unavailable("remove edge", errBackend)}

	_, err := f.svc.Follow(context.Background(), alice, bob)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Equal(t, 3, f.edges.removalsSeen)
	f.requireConsistent(t)
}

func TestFollowReportsFaultWhenRollbackFails(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	f.counters.setFail(failTimes(CounterRef{FieldFollowing, alice}, 1))
	f.edges.removeErrs = []error{errBackend, errBackend, errBackend}

	_, err := f.svc.Follow(context.Background(), alice, bob)
	require.Error(t, err)
	assert.Equal(t, CodeConsistencyFault, CodeOf(err))
	assert.False(t, Retryable(err))

	var fault *ConsistencyFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, KindFollow, fault.Kind)
	assert.Equal(t, alice, fault.Source)
	assert.Equal(t, bob, fault.Target)
	assert.ErrorIs(t, fault.Cause, ErrStorageUnavailable)
	assert.ErrorIs(t, fault.Compensation, errBackend)
	assert.Equal(t, 3, f.edges.removalsSeen)
}

func TestCounterRevertFailureIsFault(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	f.counters.setFail(func(ref CounterRef, delta int64) bool {
		return ref.Field == FieldFollowers || delta < 0
	})

	_, err := f.svc.Follow(context.Background(), alice, bob)
	assert.Equal(t, CodeConsistencyFault, CodeOf(err))

	var fault *ConsistencyFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "follow_created", fault.Op)
}

func TestUnfollowRestoresEdgeWhenCounterUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	edge, err := f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)

	f.counters.setFail(func(ref CounterRef, delta int64) bool {
		return ref == CounterRef{FieldFollowers, bob} && delta < 0
	})
	err = f.svc.Unfollow(ctx, alice, bob)
	assert.Equal(t, CodeUnavailable, CodeOf(err))

	status, err := f.svc.IsFollowing(ctx, alice, bob)
	require.NoError(t, err)
	require.True(t, status.Related, "edge must be restored")
	assert.True(t, status.Since.Equal(edge.CreatedAt), "original timestamp must be kept")
	f.requireConsistent(t)
}

func TestUnfollowFallsForwardWhenPairWasRecreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	_, err := f.svc.Follow(ctx, alice, bob)
	require.NoError(t, err)

	f.counters.setFail(failTimes(CounterRef{FieldFollowing, alice}, 1))
	f.edges.insertErrs = []error{ErrEdgeExists}

	require.NoError(t, f.svc.Unfollow(ctx, alice, bob))
	followers, _ := f.followCounts(t, bob)
	_, following := f.followCounts(t, alice)
	assert.Zero(t, followers)
	assert.Zero(t, following)
	f.requireConsistent(t)
}

func TestTransitionsNotifyBothParties(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	actorSignals := make(chan Signal, 4)
	targetSignals := make(chan Signal, 4)
	defer f.bus.Subscribe(alice, func(s Signal) { actorSignals <- s })()
	defer f.bus.Subscribe(bob, func(s Signal) { targetSignals <- s })()

	_, err := f.svc.Follow(context.Background(), alice, bob)
	require.NoError(t, err)

	for _, ch := range []chan Signal{actorSignals, targetSignals} {
		select {
		case s := <-ch:
			assert.Equal(t, ActionFollowed, s.Action)
			assert.Equal(t, alice, s.Actor)
			assert.Equal(t, bob, s.Target)
		case <-time.After(time.Second):
			t.Fatal("signal not delivered")
		}
	}

	// failed transitions are silent
	_, err = f.svc.Follow(context.Background(), alice, bob)
	require.ErrorIs(t, err, ErrAlreadyFollowing)
	select {
	case s := <-targetSignals:
		t.Fatalf("unexpected signal %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}
