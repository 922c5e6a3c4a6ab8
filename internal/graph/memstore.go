package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chicify/socialgraph/internal/models"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex; every
// method is atomic, which gives it the same uniqueness and relative-update
// guarantees the database backends get from their engines.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
	items map[string]*models.Item
	edges map[edgeKey]Edge
}

type edgeKey struct {
	kind   Kind
	source string
	target string
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[string]*models.User),
		items: make(map[string]*models.Item),
		edges: make(map[edgeKey]Edge),
	}
}

// PutUser stores or replaces a user record.
func (m *MemStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutItem stores or replaces an item record.
func (m *MemStore) PutItem(it models.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.Tags = append([]string(nil), it.Tags...)
	m.items[it.ID] = &it
}

// Get returns the edge for the pair, or nil if absent.
func (m *MemStore) Get(_ context.Context, kind Kind, source, target string) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[edgeKey{kind, source, target}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Exists reports whether the pair is stored.
func (m *MemStore) Exists(_ context.Context, kind Kind, source, target string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[edgeKey{kind, source, target}]
	return ok, nil
}

// Insert stores the edge unless the pair already exists.
func (m *MemStore) Insert(_ context.Context, edge Edge) error {
	if err := ValidateEdge(edge); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := edgeKey{edge.Kind, edge.Source, edge.Target}
	if _, ok := m.edges[k]; ok {
		return ErrEdgeExists
	}
	m.edges[k] = edge
	return nil
}

// Remove deletes the edge and returns it.
func (m *MemStore) Remove(_ context.Context, kind Kind, source, target string) (*Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := edgeKey{kind, source, target}
	e, ok := m.edges[k]
	if !ok {
		return nil, ErrEdgeMissing
	}
	delete(m.edges, k)
	return &e, nil
}

// ListBySource returns edges of kind leaving source, newest first.
func (m *MemStore) ListBySource(_ context.Context, kind Kind, source string) ([]Edge, error) {
	return m.collect(func(e Edge) bool { return e.Kind == kind && e.Source == source }), nil
}

// ListByTarget returns edges of kind pointing at target, newest first.
func (m *MemStore) ListByTarget(_ context.Context, kind Kind, target string) ([]Edge, error) {
	return m.collect(func(e Edge) bool { return e.Kind == kind && e.Target == target }), nil
}

// CountBySource counts edges of kind leaving source.
func (m *MemStore) CountBySource(_ context.Context, kind Kind, source string) (int64, error) {
	return int64(len(m.collect(func(e Edge) bool { return e.Kind == kind && e.Source == source }))), nil
}

// CountByTarget counts edges of kind pointing at target.
func (m *MemStore) CountByTarget(_ context.Context, kind Kind, target string) (int64, error) {
	return int64(len(m.collect(func(e Edge) bool { return e.Kind == kind && e.Target == target }))), nil
}

func (m *MemStore) collect(match func(Edge) bool) []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, e := range m.edges {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Adjust applies delta to the referenced counter, clamping at zero.
func (m *MemStore) Adjust(_ context.Context, ref CounterRef, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.counter(ref)
	if err != nil {
		return false, err
	}
	next := *p + delta
	if next < 0 {
		*p = 0
		return true, nil
	}
	*p = next
	return false, nil
}

// Set overwrites the referenced counter.
func (m *MemStore) Set(_ context.Context, ref CounterRef, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.counter(ref)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// counter resolves ref to the field it names; callers must hold m.mu.
func (m *MemStore) counter(ref CounterRef) (*int64, error) {
	switch ref.Field {
	case FieldLikes:
		if it, ok := m.items[ref.ID]; ok {
			return &it.LikesCount, nil
		}
		return nil, fmt.Errorf("item %s: %w", ref.ID, ErrEntityMissing)
	case FieldFollowers, FieldFollowing:
		u, ok := m.users[ref.ID]
		if !ok {
			return nil, fmt.Errorf("user %s: %w", ref.ID, ErrEntityMissing)
		}
		if ref.Field == FieldFollowers {
			return &u.FollowersCount, nil
		}
		return &u.FollowingCount, nil
	default:
		return nil, fmt.Errorf("unknown counter %q: %w", ref.Field, ErrInvalidArgument)
	}
}

// GetUser returns a copy of the user, or nil if absent.
func (m *MemStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetUsers returns copies of the users that exist among ids.
func (m *MemStore) GetUsers(_ context.Context, ids []string) (map[string]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// GetItem returns a copy of the item, or nil if absent.
func (m *MemStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	return &cp, nil
}

// GetItems returns copies of the items that exist among ids.
func (m *MemStore) GetItems(_ context.Context, ids []string) (map[string]*models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.Item, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			cp := *it
			cp.Tags = append([]string(nil), it.Tags...)
			out[id] = &cp
		}
	}
	return out, nil
}

// ListUserIDs pages through user ids in ascending order.
func (m *MemStore) ListUserIDs(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	return page(ids, after, limit), nil
}

// ListItemIDs pages through item ids in ascending order.
func (m *MemStore) ListItemIDs(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	return page(ids, after, limit), nil
}

func page(ids []string, after string, limit int) []string {
	sort.Strings(ids)
	start := sort.SearchStrings(ids, after)
	if start < len(ids) && ids[start] == after {
		start++
	}
	ids = ids[start:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
