package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chicify/socialgraph/internal/models"
	"github.com/chicify/socialgraph/pkg/logging"
	"github.com/chicify/socialgraph/pkg/telemetry"
)

// Options tunes the relationship service
type Options struct {
	// CompensationAttempts is how many times a rollback is tried before the
	// transition is reported as a consistency fault.
	CompensationAttempts int
	CompensationBackoff  time.Duration

	// OperationTimeout bounds a whole transition. Transitions run detached
	// from the caller's cancellation so that a client disconnect cannot stop
	// a mutation between its edge write and its counter update.
	OperationTimeout time.Duration

	RejectOwnItemLikes bool

	Now func() time.Time
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		CompensationAttempts: 3,
		CompensationBackoff:  50 * time.Millisecond,
		OperationTimeout:     5 * time.Second,
		RejectOwnItemLikes:   true,
		Now:                  time.Now,
	}
}

// Service orchestrates follow and like transitions. Every transition writes
// the edge first, then updates counters through the CounterMaintainer, and
// rolls the edge back if the counters could not be updated.
type Service struct {
	edges    EdgeStore
	entities EntityStore
	counters *CounterMaintainer
	notifier Notifier
	locker   Locker
	opts     Options
	logger   *zap.Logger

	follow relation
	like   relation
}

// relation describes one edge kind to the shared transition code.
type relation struct {
	kind                     Kind
	created, removed         Action
	sourceField, targetField string
	already, absent          error
	check                    func(ctx context.Context, source, target string, creating bool) error
	onCreated, onRemoved     func(ctx context.Context, source, target string) error
}

// NewService creates a new relationship service. A nil notifier or locker is
// replaced by a no-op.
func NewService(edges EdgeStore, entities EntityStore, counters *CounterMaintainer, notifier Notifier, locker Locker, opts Options, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if locker == nil {
		locker = NopLocker{}
	}
	if opts.CompensationAttempts < 1 {
		opts.CompensationAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		edges:    edges,
		entities: entities,
		counters: counters,
		notifier: notifier,
		locker:   locker,
		opts:     opts,
		logger:   logger,
	}
	s.follow = relation{
		kind:        KindFollow,
		created:     ActionFollowed,
		removed:     ActionUnfollowed,
		sourceField: "followerId",
		targetField: "followeeId",
		already:     ErrAlreadyFollowing,
		absent:      ErrNotFollowing,
		check:       s.checkFollow,
		onCreated:   counters.ApplyFollowCreated,
		onRemoved:   counters.ApplyFollowRemoved,
	}
	s.like = relation{
		kind:        KindLike,
		created:     ActionLiked,
		removed:     ActionUnliked,
		sourceField: "userId",
		targetField: "itemId",
		already:     ErrAlreadyLiked,
		absent:      ErrNotLiked,
		check:       s.checkLike,
		onCreated:   counters.ApplyLikeCreated,
		onRemoved:   counters.ApplyLikeRemoved,
	}
	return s
}

// Follow makes followerID follow followeeID
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) (*Edge, error) {
	return s.relate(ctx, &s.follow, followerID, followeeID)
}

// Unfollow removes the follow edge from followerID to followeeID
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return s.unrelate(ctx, &s.follow, followerID, followeeID)
}

// Like records that userID likes itemID
func (s *Service) Like(ctx context.Context, userID, itemID string) (*Edge, error) {
	return s.relate(ctx, &s.like, userID, itemID)
}

// Unlike removes the like edge from userID to itemID
func (s *Service) Unlike(ctx context.Context, userID, itemID string) error {
	return s.unrelate(ctx, &s.like, userID, itemID)
}

// IsFollowing reports whether followerID follows followeeID. It never mutates.
func (s *Service) IsFollowing(ctx context.Context, followerID, followeeID string) (*Status, error) {
	return s.status(ctx, &s.follow, followerID, followeeID)
}

// IsLiked reports whether userID likes itemID. It never mutates.
func (s *Service) IsLiked(ctx context.Context, userID, itemID string) (*Status, error) {
	return s.status(ctx, &s.like, userID, itemID)
}

// Apply dispatches a string action to the matching transition and returns the
// past-tense outcome.
func (s *Service) Apply(ctx context.Context, action Action, source, target string) (Action, error) {
	var (
		outcome Action
		err     error
	)
	switch action {
	case ActionFollow:
		outcome = ActionFollowed
		_, err = s.Follow(ctx, source, target)
	case ActionUnfollow:
		outcome = ActionUnfollowed
		err = s.Unfollow(ctx, source, target)
	case ActionLike:
		outcome = ActionLiked
		_, err = s.Like(ctx, source, target)
	case ActionUnlike:
		outcome = ActionUnliked
		err = s.Unlike(ctx, source, target)
	default:
		return "", fmt.Errorf("unknown action %q: %w", action, ErrInvalidArgument)
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *Service) relate(ctx context.Context, rel *relation, source, target string) (_ *Edge, err error) {
	ctx, span := telemetry.StartSpan(ctx, "graph."+string(rel.kind),
		trace.WithAttributes(attribute.String("graph.source", source), attribute.String("graph.target", target)))
	defer func() { endSpan(span, err) }()

	source, target, err = rel.normalize(source, target)
	if err != nil {
		return nil, err
	}
	if err := rel.rejectSelf(source, target); err != nil {
		return nil, err
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, PairKey(rel.kind, source, target))
	if err != nil {
		return nil, Unavailable("acquire pair lock", err)
	}
	defer unlock()

	if err := rel.check(ctx, source, target, true); err != nil {
		return nil, err
	}
	exists, err := s.edges.Exists(ctx, rel.kind, source, target)
	if err != nil {
		return nil, err
	}
	if exists {
		conflictsTotal.Add(ctx, 1, kindAttrs(rel.kind, attribute.String("action", string(rel.created))))
		return nil, rel.already
	}

	// Millisecond precision is what every backend can store and return.
	edge := Edge{Kind: rel.kind, Source: source, Target: target, CreatedAt: s.opts.Now().UTC().Truncate(time.Millisecond)}
	if err := s.edges.Insert(ctx, edge); err != nil {
		if errors.Is(err, ErrEdgeExists) {
			conflictsTotal.Add(ctx, 1, kindAttrs(rel.kind, attribute.String("action", string(rel.created))))
			return nil, rel.already
		}
		return nil, err
	}
	if err := rel.onCreated(ctx, source, target); err != nil {
		return nil, s.undoInsert(ctx, rel, edge, err)
	}

	s.completed(ctx, rel.kind, rel.created, source, target)
	return &edge, nil
}

func (s *Service) unrelate(ctx context.Context, rel *relation, source, target string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "graph.un"+string(rel.kind),
		trace.WithAttributes(attribute.String("graph.source", source), attribute.String("graph.target", target)))
	defer func() { endSpan(span, err) }()

	source, target, err = rel.normalize(source, target)
	if err != nil {
		return err
	}
	if err := rel.rejectSelf(source, target); err != nil {
		return err
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, PairKey(rel.kind, source, target))
	if err != nil {
		return Unavailable("acquire pair lock", err)
	}
	defer unlock()

	if err := rel.check(ctx, source, target, false); err != nil {
		return err
	}
	removed, err := s.edges.Remove(ctx, rel.kind, source, target)
	if err != nil {
		if errors.Is(err, ErrEdgeMissing) {
			conflictsTotal.Add(ctx, 1, kindAttrs(rel.kind, attribute.String("action", string(rel.removed))))
			return rel.absent
		}
		return err
	}
	if err := rel.onRemoved(ctx, source, target); err != nil {
		if err := s.undoRemove(ctx, rel, *removed, err); err != nil {
			return err
		}
	}

	s.completed(ctx, rel.kind, rel.removed, source, target)
	return nil
}

func (s *Service) status(ctx context.Context, rel *relation, source, target string) (_ *Status, err error) {
	ctx, span := telemetry.StartSpan(ctx, "graph.status."+string(rel.kind))
	defer func() { endSpan(span, err) }()

	source, target, err = rel.normalize(source, target)
	if err != nil {
		return nil, err
	}
	edge, err := s.edges.Get(ctx, rel.kind, source, target)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return &Status{}, nil
	}
	since := edge.CreatedAt
	return &Status{Related: true, Since: &since}, nil
}

// undoInsert removes an edge whose counter update failed. On success the
// original counter error is returned; if the edge cannot be removed the
// transition is a consistency fault.
func (s *Service) undoInsert(ctx context.Context, rel *relation, edge Edge, cause error) error {
	if errors.Is(cause, ErrConsistencyFault) {
		return s.fault(ctx, cause)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.CompensationAttempts; attempt++ {
		_, err := s.edges.Remove(ctx, edge.Kind, edge.Source, edge.Target)
		if err == nil || errors.Is(err, ErrEdgeMissing) {
			s.compensated(ctx, edge, "removed_edge", cause)
			return fmt.Errorf("%s %s -> %s: %w", rel.kind, edge.Source, edge.Target, cause)
		}
		lastErr = err
		if !s.backoff(ctx, attempt) {
			break
		}
	}
	return s.fault(ctx, &ConsistencyFault{
		Op:           string(rel.created),
		Kind:         edge.Kind,
		Source:       edge.Source,
		Target:       edge.Target,
		Cause:        cause,
		Compensation: lastErr,
	})
}

// undoRemove restores an edge whose counter decrement failed. If the pair was
// re-created in the meantime the removal is considered to have happened, and
// the decrement is retried instead. It returns nil only when the transition
// ended up fully applied.
func (s *Service) undoRemove(ctx context.Context, rel *relation, edge Edge, cause error) error {
	if errors.Is(cause, ErrConsistencyFault) {
		return s.fault(ctx, cause)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.CompensationAttempts; attempt++ {
		err := s.edges.Insert(ctx, edge)
		switch {
		case err == nil:
			s.compensated(ctx, edge, "restored_edge", cause)
			return fmt.Errorf("un%s %s -> %s: %w", rel.kind, edge.Source, edge.Target, cause)
		case errors.Is(err, ErrEdgeExists):
			if err = rel.onRemoved(ctx, edge.Source, edge.Target); err == nil {
				s.compensated(ctx, edge, "fell_forward", cause)
				return nil
			}
			if errors.Is(err, ErrConsistencyFault) {
				return s.fault(ctx, err)
			}
		}
		lastErr = err
		if !s.backoff(ctx, attempt) {
			break
		}
	}
	return s.fault(ctx, &ConsistencyFault{
		Op:           string(rel.removed),
		Kind:         edge.Kind,
		Source:       edge.Source,
		Target:       edge.Target,
		Cause:        cause,
		Compensation: lastErr,
	})
}

// backoff waits before the next compensation attempt. It returns false when
// there is no next attempt or the operation deadline has passed.
func (s *Service) backoff(ctx context.Context, attempt int) bool {
	if attempt >= s.opts.CompensationAttempts {
		return false
	}
	if s.opts.CompensationBackoff <= 0 {
		return true
	}
	t := time.NewTimer(time.Duration(attempt) * s.opts.CompensationBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) compensated(ctx context.Context, edge Edge, outcome string, cause error) {
	logging.FromContext(ctx, s.logger).Warn("Compensated failed counter update",
		zap.String("kind", string(edge.Kind)),
		zap.String("source", edge.Source),
		zap.String("target", edge.Target),
		zap.String("outcome", outcome),
		zap.Error(cause))
	compensationsTotal.Add(ctx, 1, kindAttrs(edge.Kind, attribute.String("outcome", outcome)))
}

func (s *Service) fault(ctx context.Context, err error) error {
	var f *ConsistencyFault
	if errors.As(err, &f) {
		logging.FromContext(ctx, s.logger).Error("Consistency fault, counters need reconciliation",
			zap.String("op", f.Op),
			zap.String("kind", string(f.Kind)),
			zap.String("source", f.Source),
			zap.String("target", f.Target),
			zap.NamedError("cause", f.Cause),
			zap.NamedError("compensation", f.Compensation))
		faultsTotal.Add(ctx, 1, kindAttrs(f.Kind, attribute.String("op", f.Op)))
	}
	return err
}

func (s *Service) completed(ctx context.Context, kind Kind, action Action, source, target string) {
	transitionsTotal.Add(ctx, 1, kindAttrs(kind, attribute.String("action", string(action))))
	s.logger.Debug("Relationship transition applied",
		zap.String("action", string(action)),
		zap.String("source", source),
		zap.String("target", target))
	s.notifier.Notify(ctx, Signal{
		Kind:   kind,
		Actor:  source,
		Target: target,
		Action: action,
		At:     s.opts.Now().UTC(),
	})
}

func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) checkFollow(ctx context.Context, followerID, followeeID string, _ bool) error {
	var follower, followee *models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		follower, err = s.entities.GetUser(gctx, followerID)
		return err
	})
	g.Go(func() (err error) {
		followee, err = s.entities.GetUser(gctx, followeeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if follower == nil {
		return fmt.Errorf("user %s: %w", followerID, ErrNotFound)
	}
	if followee == nil {
		return fmt.Errorf("user %s: %w", followeeID, ErrNotFound)
	}
	return nil
}

// checkLike verifies both entities exist. The own-item policy only guards
// new likes so that existing ones can always be removed.
func (s *Service) checkLike(ctx context.Context, userID, itemID string, creating bool) error {
	var user *models.User
	var item *models.Item
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		user, err = s.entities.GetUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		item, err = s.entities.GetItem(gctx, itemID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if item == nil {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if creating && s.opts.RejectOwnItemLikes && item.OwnerID == userID {
		return fmt.Errorf("user %s owns item %s: %w", userID, itemID, ErrSelfReference)
	}
	return nil
}

func (r *relation) normalize(source, target string) (string, string, error) {
	source, err := NormalizeID(r.sourceField, source)
	if err != nil {
		return "", "", err
	}
	target, err = NormalizeID(r.targetField, target)
	if err != nil {
		return "", "", err
	}
	return source, target, nil
}

// rejectSelf refuses transitions on a pair that points back at its source.
// Status reads skip it and simply report no edge.
func (r *relation) rejectSelf(source, target string) error {
	if r.kind == KindFollow && source == target {
		return fmt.Errorf("user %s cannot follow itself: %w", source, ErrSelfReference)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
	}
	span.End()
}
