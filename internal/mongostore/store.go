package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/internal/models"
)

// Compile-time assertion: *Store satisfies graph.Store.
var _ graph.Store = (*Store)(nil)

// Store implements graph.Store on MongoDB. Pair uniqueness comes from the
// unique indexes created by Client.EnsureIndexes.
type Store struct {
	users   *mongo.Collection
	items   *mongo.Collection
	follows *mongo.Collection
	likes   *mongo.Collection
}

// NewStore creates a store over the given database
func NewStore(db *mongo.Database) *Store {
	return &Store{
		users:   db.Collection(UsersCollection),
		items:   db.Collection(ItemsCollection),
		follows: db.Collection(FollowsCollection),
		likes:   db.Collection(LikesCollection),
	}
}

// edgeFields names the document fields of one edge kind
type edgeFields struct {
	source string
	target string
}

var edgeFieldsByKind = map[graph.Kind]edgeFields{
	graph.KindFollow: {"followerId", "followingId"},
	graph.KindLike:   {"userId", "outfitId"},
}

func (s *Store) edges(kind graph.Kind) (*mongo.Collection, edgeFields, error) {
	f, ok := edgeFieldsByKind[kind]
	if !ok {
		return nil, edgeFields{}, fmt.Errorf("unknown edge kind %q: %w", kind, graph.ErrInvalidArgument)
	}
	if kind == graph.KindFollow {
		return s.follows, f, nil
	}
	return s.likes, f, nil
}

// edgeDoc is the common shape of follow and like documents
type edgeDoc struct {
	FollowerID string    `bson:"followerId,omitempty"`
	FolloweeID string    `bson:"followingId,omitempty"`
	UserID     string    `bson:"userId,omitempty"`
	ItemID     string    `bson:"outfitId,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (d edgeDoc) edge(kind graph.Kind) graph.Edge {
	if kind == graph.KindFollow {
		return graph.Edge{Kind: kind, Source: d.FollowerID, Target: d.FolloweeID, CreatedAt: d.CreatedAt.UTC()}
	}
	return graph.Edge{Kind: kind, Source: d.UserID, Target: d.ItemID, CreatedAt: d.CreatedAt.UTC()}
}

func pairFilter(f edgeFields, source, target string) bson.D {
	return bson.D{{Key: f.source, Value: source}, {Key: f.target, Value: target}}
}

// Get retrieves an edge, or nil if it does not exist
func (s *Store) Get(ctx context.Context, kind graph.Kind, source, target string) (*graph.Edge, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return nil, err
	}
	var doc edgeDoc
	if err := coll.FindOne(ctx, pairFilter(f, source, target)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, graph.Unavailable("get edge", err)
	}
	edge := doc.edge(kind)
	return &edge, nil
}

// Exists reports whether an edge is stored
func (s *Store) Exists(ctx context.Context, kind graph.Kind, source, target string) (bool, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return false, err
	}
	n, err := coll.CountDocuments(ctx, pairFilter(f, source, target), options.Count().SetLimit(1))
	if err != nil {
		return false, graph.Unavailable("check edge", err)
	}
	return n > 0, nil
}

// Insert creates an edge document. The unique pair index rejects duplicates.
func (s *Store) Insert(ctx context.Context, edge graph.Edge) error {
	if err := graph.ValidateEdge(edge); err != nil {
		return err
	}
	coll, _, err := s.edges(edge.Kind)
	if err != nil {
		return err
	}

	var doc interface{}
	if edge.Kind == graph.KindFollow {
		doc = models.Follow{FollowerID: edge.Source, FolloweeID: edge.Target, CreatedAt: edge.CreatedAt}
	} else {
		doc = models.Like{UserID: edge.Source, ItemID: edge.Target, CreatedAt: edge.CreatedAt}
	}

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return graph.ErrEdgeExists
		}
		return graph.Unavailable("insert edge", err)
	}
	return nil
}

// Remove deletes an edge and returns the deleted document
func (s *Store) Remove(ctx context.Context, kind graph.Kind, source, target string) (*graph.Edge, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return nil, err
	}
	var doc edgeDoc
	if err := coll.FindOneAndDelete(ctx, pairFilter(f, source, target)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, graph.ErrEdgeMissing
		}
		return nil, graph.Unavailable("remove edge", err)
	}
	edge := doc.edge(kind)
	return &edge, nil
}

// ListBySource lists edges leaving source, newest first
func (s *Store) ListBySource(ctx context.Context, kind graph.Kind, source string) ([]graph.Edge, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, kind, coll, bson.D{{Key: f.source, Value: source}}, f.target)
}

// ListByTarget lists edges pointing at target, newest first
func (s *Store) ListByTarget(ctx context.Context, kind graph.Kind, target string) ([]graph.Edge, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, kind, coll, bson.D{{Key: f.target, Value: target}}, f.source)
}

func (s *Store) list(ctx context.Context, kind graph.Kind, coll *mongo.Collection, filter bson.D, tieBreak string) ([]graph.Edge, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: tieBreak, Value: 1}})
	cursor, err := coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, graph.Unavailable("list edges", err)
	}
	defer cursor.Close(ctx)

	var docs []edgeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.Unavailable("list edges", err)
	}
	edges := make([]graph.Edge, 0, len(docs))
	for _, d := range docs {
		edges = append(edges, d.edge(kind))
	}
	return edges, nil
}

// CountBySource counts edges leaving source
func (s *Store) CountBySource(ctx context.Context, kind graph.Kind, source string) (int64, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, coll, bson.D{{Key: f.source, Value: source}})
}

// CountByTarget counts edges pointing at target
func (s *Store) CountByTarget(ctx context.Context, kind graph.Kind, target string) (int64, error) {
	coll, f, err := s.edges(kind)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, coll, bson.D{{Key: f.target, Value: target}})
}

func (s *Store) count(ctx context.Context, coll *mongo.Collection, filter bson.D) (int64, error) {
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, graph.Unavailable("count edges", err)
	}
	return n, nil
}

// counterDoc receives the pre-update value of whichever counter was adjusted
type counterDoc struct {
	FollowersCount int64 `bson:"followersCount"`
	FollowingCount int64 `bson:"followingCount"`
	LikesCount     int64 `bson:"likesCount"`
}

func (d counterDoc) value(field graph.CounterField) int64 {
	switch field {
	case graph.FieldFollowers:
		return d.FollowersCount
	case graph.FieldFollowing:
		return d.FollowingCount
	default:
		return d.LikesCount
	}
}

// counterTarget maps a counter to its collection and document field
func (s *Store) counterTarget(field graph.CounterField) (*mongo.Collection, string, error) {
	switch field {
	case graph.FieldFollowers:
		return s.users, "followersCount", nil
	case graph.FieldFollowing:
		return s.users, "followingCount", nil
	case graph.FieldLikes:
		return s.items, "likesCount", nil
	default:
		return nil, "", fmt.Errorf("unknown counter %q: %w", field, graph.ErrInvalidArgument)
	}
}

// clampedAdd is an update pipeline that adds delta to field without going
// below zero
func clampedAdd(field string, delta int64) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: field, Value: bson.D{{Key: "$max", Value: bson.A{
			int64(0),
			bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, int64(0)}}}, delta}}},
		}}}}}}},
	}
}

// Adjust adds delta to a counter atomically. The document is returned as it
// was before the update so that a clamp can be detected.
func (s *Store) Adjust(ctx context.Context, ref graph.CounterRef, delta int64) (bool, error) {
	coll, field, err := s.counterTarget(ref.Field)
	if err != nil {
		return false, err
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.D{{Key: field, Value: 1}})
	var before counterDoc
	if err := coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: ref.ID}}, clampedAdd(field, delta), opts).Decode(&before); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, fmt.Errorf("%s: %w", ref, graph.ErrEntityMissing)
		}
		return false, graph.Unavailable("adjust "+ref.String(), err)
	}
	return before.value(ref.Field)+delta < 0, nil
}

// Set overwrites a counter
func (s *Store) Set(ctx context.Context, ref graph.CounterRef, value int64) error {
	coll, field, err := s.counterTarget(ref.Field)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: ref.ID}}, bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}})
	if err != nil {
		return graph.Unavailable("set "+ref.String(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", ref, graph.ErrEntityMissing)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, graph.Unavailable("get user", err)
	}
	return &user, nil
}

// GetUsers retrieves multiple users by ID
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	var users []*models.User
	if err := s.findIn(ctx, s.users, ids, &users); err != nil {
		return nil, graph.Unavailable("get users", err)
	}
	out := make(map[string]*models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// GetItem retrieves an item by ID
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := s.items.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, graph.Unavailable("get item", err)
	}
	return &item, nil
}

// GetItems retrieves multiple items by ID
func (s *Store) GetItems(ctx context.Context, ids []string) (map[string]*models.Item, error) {
	var items []*models.Item
	if err := s.findIn(ctx, s.items, ids, &items); err != nil {
		return nil, graph.Unavailable("get items", err)
	}
	out := make(map[string]*models.Item, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

func (s *Store) findIn(ctx context.Context, coll *mongo.Collection, ids []string, results interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	cursor, err := coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, results)
}

// ListUserIDs pages through user IDs in ascending order
func (s *Store) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return s.listIDs(ctx, s.users, after, limit)
}

// ListItemIDs pages through item IDs in ascending order
func (s *Store) ListItemIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return s.listIDs(ctx, s.items, after, limit)
}

func (s *Store) listIDs(ctx context.Context, coll *mongo.Collection, after string, limit int) ([]string, error) {
	filter := bson.D{}
	if after != "" {
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}}}}
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, graph.Unavailable("list ids", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, graph.Unavailable("list ids", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
