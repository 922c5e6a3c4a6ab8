package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/internal/models"
)

// Compile-time assertion: *Store satisfies graph.Store.
var _ graph.Store = (*Store)(nil)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Store combines the edge, counter and entity repositories into one backend
type Store struct {
	*EdgeRepository
	*CounterRepository
	*EntityRepository
}

// NewStore creates a graph store backed by the given database
func NewStore(db *gorm.DB) *Store {
	repo := NewRepository(db)
	return &Store{
		EdgeRepository:    NewEdgeRepository(repo),
		CounterRepository: NewCounterRepository(repo),
		EntityRepository:  NewEntityRepository(repo),
	}
}

// edgeTable describes where one edge kind is stored
type edgeTable struct {
	model        interface{}
	sourceColumn string
	targetColumn string
}

var edgeTables = map[graph.Kind]edgeTable{
	graph.KindFollow: {&models.Follow{}, "follower_id", "followee_id"},
	graph.KindLike:   {&models.Like{}, "user_id", "item_id"},
}

func tableFor(kind graph.Kind) (edgeTable, error) {
	t, ok := edgeTables[kind]
	if !ok {
		return edgeTable{}, fmt.Errorf("unknown edge kind %q: %w", kind, graph.ErrInvalidArgument)
	}
	return t, nil
}

// edgeRow is the common projection of the follows and likes tables
type edgeRow struct {
	Source    string
	Target    string
	CreatedAt time.Time
}

// EdgeRepository provides follow and like edge operations
type EdgeRepository struct {
	*Repository
}

// NewEdgeRepository creates a new edge repository
func NewEdgeRepository(repo *Repository) *EdgeRepository {
	return &EdgeRepository{Repository: repo}
}

func (r *EdgeRepository) scope(ctx context.Context, t edgeTable) *gorm.DB {
	return r.db.WithContext(ctx).Model(t.model).
		Select(t.sourceColumn + " AS source, " + t.targetColumn + " AS target, created_at")
}

// Get retrieves an edge, or nil if it does not exist
func (r *EdgeRepository) Get(ctx context.Context, kind graph.Kind, source, target string) (*graph.Edge, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var rows []edgeRow
	if err := r.scope(ctx, t).
		Where(t.sourceColumn+" = ? AND "+t.targetColumn+" = ?", source, target).
		Limit(1).
		Scan(&rows).Error; err != nil {
		return nil, wrap("get edge", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	edge := rows[0].edge(kind)
	return &edge, nil
}

// Exists reports whether an edge is stored
func (r *EdgeRepository) Exists(ctx context.Context, kind graph.Kind, source, target string) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(t.model).
		Where(t.sourceColumn+" = ? AND "+t.targetColumn+" = ?", source, target).
		Count(&n).Error; err != nil {
		return false, wrap("check edge", err)
	}
	return n > 0, nil
}

// Insert creates an edge. The composite primary key rejects duplicates.
func (r *EdgeRepository) Insert(ctx context.Context, edge graph.Edge) error {
	if err := graph.ValidateEdge(edge); err != nil {
		return err
	}

	var record interface{}
	switch edge.Kind {
	case graph.KindFollow:
		record = &models.Follow{FollowerID: edge.Source, FolloweeID: edge.Target, CreatedAt: edge.CreatedAt}
	case graph.KindLike:
		record = &models.Like{UserID: edge.Source, ItemID: edge.Target, CreatedAt: edge.CreatedAt}
	}

	err := r.db.WithContext(ctx).Create(record).Error
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return graph.ErrEdgeExists
	case IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %w", graph.ErrNotFound, graph.ErrEntityMissing)
	default:
		return wrap("insert edge", err)
	}
}

// Remove deletes an edge and returns the deleted row
func (r *EdgeRepository) Remove(ctx context.Context, kind graph.Kind, source, target string) (*graph.Edge, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var rows []edgeRow
	res := r.db.WithContext(ctx).Raw(
		"DELETE FROM "+tableName(t)+" WHERE "+t.sourceColumn+" = ? AND "+t.targetColumn+" = ?"+
			" RETURNING "+t.sourceColumn+" AS source, "+t.targetColumn+" AS target, created_at",
		source, target,
	).Scan(&rows)
	if res.Error != nil {
		return nil, wrap("remove edge", res.Error)
	}
	if len(rows) == 0 {
		return nil, graph.ErrEdgeMissing
	}
	edge := rows[0].edge(kind)
	return &edge, nil
}

// ListBySource lists edges leaving source, newest first
func (r *EdgeRepository) ListBySource(ctx context.Context, kind graph.Kind, source string) ([]graph.Edge, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, kind, t, t.sourceColumn, source, t.targetColumn)
}

// ListByTarget lists edges pointing at target, newest first
func (r *EdgeRepository) ListByTarget(ctx context.Context, kind graph.Kind, target string) ([]graph.Edge, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, kind, t, t.targetColumn, target, t.sourceColumn)
}

func (r *EdgeRepository) list(ctx context.Context, kind graph.Kind, t edgeTable, column, id, tieBreak string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := r.scope(ctx, t).
		Where(column+" = ?", id).
		Order("created_at DESC").
		Order(tieBreak + " ASC").
		Scan(&rows).Error; err != nil {
		return nil, wrap("list edges", err)
	}
	edges := make([]graph.Edge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, row.edge(kind))
	}
	return edges, nil
}

// CountBySource counts edges leaving source
func (r *EdgeRepository) CountBySource(ctx context.Context, kind graph.Kind, source string) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, t, t.sourceColumn, source)
}

// CountByTarget counts edges pointing at target
func (r *EdgeRepository) CountByTarget(ctx context.Context, kind graph.Kind, target string) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, t, t.targetColumn, target)
}

func (r *EdgeRepository) count(ctx context.Context, t edgeTable, column, id string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(t.model).Where(column+" = ?", id).Count(&n).Error; err != nil {
		return 0, wrap("count edges", err)
	}
	return n, nil
}

func (row edgeRow) edge(kind graph.Kind) graph.Edge {
	return graph.Edge{Kind: kind, Source: row.Source, Target: row.Target, CreatedAt: row.CreatedAt.UTC()}
}

func tableName(t edgeTable) string {
	return t.model.(interface{ TableName() string }).TableName()
}

// CounterRepository applies relative updates to the denormalized counters
type CounterRepository struct {
	*Repository
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(repo *Repository) *CounterRepository {
	return &CounterRepository{Repository: repo}
}

// counterColumn maps a counter to its table and column
func counterColumn(field graph.CounterField) (table, column string, err error) {
	switch field {
	case graph.FieldFollowers:
		return models.User{}.TableName(), "followers_count", nil
	case graph.FieldFollowing:
		return models.User{}.TableName(), "following_count", nil
	case graph.FieldLikes:
		return models.Item{}.TableName(), "likes_count", nil
	default:
		return "", "", fmt.Errorf("unknown counter %q: %w", field, graph.ErrInvalidArgument)
	}
}

// Adjust adds delta to a counter in one statement. The row lock taken by
// the CTE makes the returned previous value the one the update was applied
// to, so a clamp is detected exactly.
func (r *CounterRepository) Adjust(ctx context.Context, ref graph.CounterRef, delta int64) (bool, error) {
	table, column, err := counterColumn(ref.Field)
	if err != nil {
		return false, err
	}

	var previous []int64
	if err := r.db.WithContext(ctx).Raw(
		"WITH prev AS (SELECT id, "+column+" AS value FROM "+table+" WHERE id = ? FOR UPDATE) "+
			"UPDATE "+table+" AS t SET "+column+" = GREATEST(prev.value + ?, 0) FROM prev WHERE t.id = prev.id "+
			"RETURNING prev.value",
		ref.ID, delta,
	).Scan(&previous).Error; err != nil {
		return false, wrap("adjust "+ref.String(), err)
	}
	if len(previous) == 0 {
		return false, fmt.Errorf("%s: %w", ref, graph.ErrEntityMissing)
	}
	return previous[0]+delta < 0, nil
}

// Set overwrites a counter
func (r *CounterRepository) Set(ctx context.Context, ref graph.CounterRef, value int64) error {
	table, column, err := counterColumn(ref.Field)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Table(table).Where("id = ?", ref.ID).Update(column, value)
	if res.Error != nil {
		return wrap("set "+ref.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", ref, graph.ErrEntityMissing)
	}
	return nil
}

// EntityRepository provides read access to users and items
type EntityRepository struct {
	*Repository
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(repo *Repository) *EntityRepository {
	return &EntityRepository{Repository: repo}
}

// GetUser retrieves a user by ID
func (r *EntityRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("get user", err)
	}
	return &user, nil
}

// GetUsers retrieves multiple users by ID
func (r *EntityRepository) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, wrap("get users", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// GetItem retrieves an item by ID
func (r *EntityRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("get item", err)
	}
	return &item, nil
}

// GetItems retrieves multiple items by ID
func (r *EntityRepository) GetItems(ctx context.Context, ids []string) (map[string]*models.Item, error) {
	out := make(map[string]*models.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []*models.Item
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, wrap("get items", err)
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

// ListUserIDs pages through user IDs in ascending order
func (r *EntityRepository) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return r.listIDs(ctx, &models.User{}, after, limit)
}

// ListItemIDs pages through item IDs in ascending order
func (r *EntityRepository) ListItemIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return r.listIDs(ctx, &models.Item{}, after, limit)
}

func (r *EntityRepository) listIDs(ctx context.Context, model interface{}, after string, limit int) ([]string, error) {
	q := r.db.WithContext(ctx).Model(model).Order("id ASC")
	if after != "" {
		q = q.Where("id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, wrap("list ids", err)
	}
	return ids, nil
}
