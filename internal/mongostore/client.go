package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/pkg/config"
)

// Collection names shared with the account and outfit services
const (
	UsersCollection   = "users"
	ItemsCollection   = "outfits"
	FollowsCollection = "follows"
	LikesCollection   = "likes"
)

// Client wraps a MongoDB connection and the database the graph lives in
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect opens a MongoDB connection and verifies it with a ping
func Connect(ctx context.Context, cfg *config.MongoConfig, logger *zap.Logger) (*Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary to verify connection
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("MongoDB connection established", zap.String("database", cfg.Database))
	return &Client{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Database returns the graph database
func (c *Client) Database() *mongo.Database {
	return c.db
}

// EnsureIndexes creates the unique pair indexes that arbitrate concurrent
// follows and likes, plus the lookup indexes the views need.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		FollowsCollection: {
			{
				Keys:    bson.D{{Key: "followerId", Value: 1}, {Key: "followingId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("follows_pair_unique"),
			},
			{Keys: bson.D{{Key: "followerId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("follows_follower_idx")},
			{Keys: bson.D{{Key: "followingId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("follows_followee_idx")},
		},
		LikesCollection: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "outfitId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("likes_pair_unique"),
			},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("likes_user_idx")},
			{Keys: bson.D{{Key: "outfitId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("likes_item_idx")},
		},
		ItemsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("outfits_owner_idx")},
		},
	}

	for collection, models := range specs {
		names, err := c.db.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
		c.logger.Info("MongoDB indexes ensured", zap.String("collection", collection), zap.Strings("indexes", names))
	}
	return nil
}

// Close disconnects from MongoDB
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Health pings the primary
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}
