package graph

import (
	"context"
	"fmt"

	"github.com/chicify/socialgraph/internal/models"
)

// EdgeStore is the persistent set of relationship records. Implementations
// must enforce uniqueness per (kind, source, target) natively: of several
// concurrent inserts of the same pair exactly one succeeds and the others get
// ErrEdgeExists. Unexpected backend failures are wrapped with Unavailable.
type EdgeStore interface {
	// Get returns the edge, or (nil, nil) if it does not exist.
	Get(ctx context.Context, kind Kind, source, target string) (*Edge, error)
	Exists(ctx context.Context, kind Kind, source, target string) (bool, error)

	// Insert returns ErrEdgeExists when the pair is already stored and
	// ErrSelfReference for a follow edge with Source == Target.
	Insert(ctx context.Context, edge Edge) error

	// Remove returns the deleted edge, or ErrEdgeMissing.
	Remove(ctx context.Context, kind Kind, source, target string) (*Edge, error)

	ListBySource(ctx context.Context, kind Kind, source string) ([]Edge, error)
	ListByTarget(ctx context.Context, kind Kind, target string) ([]Edge, error)
	CountBySource(ctx context.Context, kind Kind, source string) (int64, error)
	CountByTarget(ctx context.Context, kind Kind, target string) (int64, error)
}

// CounterField names a denormalized counter
type CounterField string

const (
	FieldFollowers CounterField = "followers"
	FieldFollowing CounterField = "following"
	FieldLikes     CounterField = "likes"
)

// OnItem reports whether the counter lives on an item rather than a user
func (f CounterField) OnItem() bool {
	return f == FieldLikes
}

// CounterRef addresses one counter on one entity
type CounterRef struct {
	Field CounterField
	ID    string
}

func (r CounterRef) String() string {
	return fmt.Sprintf("%s(%s)", r.Field, r.ID)
}

// CounterStore applies relative updates to denormalized counters. Adjust must
// be atomic at the storage layer. A decrement that would go negative leaves
// the counter at zero and reports clamped=true. ErrEntityMissing is returned
// when the owning entity does not exist.
type CounterStore interface {
	Adjust(ctx context.Context, ref CounterRef, delta int64) (clamped bool, err error)
	Set(ctx context.Context, ref CounterRef, value int64) error
}

// EntityStore gives read access to the users and items the graph joins against.
// Single lookups return (nil, nil) when the entity does not exist.
type EntityStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	GetItems(ctx context.Context, ids []string) (map[string]*models.Item, error)

	// ListUserIDs and ListItemIDs page through ids in ascending order,
	// starting strictly after the given id.
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
	ListItemIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Store bundles the three storage handles a backend provides
type Store interface {
	EdgeStore
	CounterStore
	EntityStore
}

// ValidateEdge checks the storage invariants an edge must satisfy before insert
func ValidateEdge(e Edge) error {
	switch e.Kind {
	case KindFollow:
		if e.Source == e.Target {
			return fmt.Errorf("follow %s: %w", e.Source, ErrSelfReference)
		}
	case KindLike:
	default:
		return fmt.Errorf("unknown edge kind %q: %w", e.Kind, ErrInvalidArgument)
	}
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("edge endpoints must be set: %w", ErrInvalidArgument)
	}
	return nil
}
