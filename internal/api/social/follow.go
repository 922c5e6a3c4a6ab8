package social

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/pkg/logging"
)

// FollowAPI provides follow-related JSON-RPC methods
type FollowAPI struct {
	service *graph.Service
	views   *graph.ViewBuilder
	logger  *zap.Logger
}

// NewFollowAPI creates a new follow API
func NewFollowAPI(service *graph.Service, views *graph.ViewBuilder) *FollowAPI {
	return &FollowAPI{
		service: service,
		views:   views,
		logger:  logging.WithComponent("social-api-follow"),
	}
}

// FollowList is the result of social.get_following and social.get_followers
type FollowList struct {
	UserID  string              `json:"userId"`
	Entries []graph.FollowEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// GetFollowing handles social.get_following
func (f *FollowAPI) GetFollowing(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return f.list(c, params, f.views.ListFollowing)
}

// GetFollowers handles social.get_followers
func (f *FollowAPI) GetFollowers(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return f.list(c, params, f.views.ListFollowers)
}

func (f *FollowAPI) list(c *gin.Context, params json.RawMessage, fetch func(ctx context.Context, userID string) ([]graph.FollowEntry, error)) (interface{}, error) {
	p, err := stringParams(params, "userId")
	if err != nil {
		return nil, err
	}
	entries, err := fetch(c.Request.Context(), p[0])
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []graph.FollowEntry{}
	}
	f.logger.Debug("Listed follows", zap.String("user_id", p[0]), zap.Int("count", len(entries)))
	return FollowList{UserID: p[0], Entries: entries, Count: len(entries)}, nil
}

// GetFollowCount handles social.get_follow_count
func (f *FollowAPI) GetFollowCount(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := stringParams(params, "userId")
	if err != nil {
		return nil, err
	}
	return f.views.FollowCounts(c.Request.Context(), p[0])
}

// IsFollowing handles social.is_following
func (f *FollowAPI) IsFollowing(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := stringParams(params, "followerId", "followeeId")
	if err != nil {
		return nil, err
	}
	status, err := f.service.IsFollowing(c.Request.Context(), p[0], p[1])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"isFollowing": status.Related,
		"followedAt":  status.Since,
	}, nil
}
