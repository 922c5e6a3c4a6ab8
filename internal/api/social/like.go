package social

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/pkg/logging"
)

// LikeAPI provides like-related JSON-RPC methods
type LikeAPI struct {
	service *graph.Service
	views   *graph.ViewBuilder
	logger  *zap.Logger
}

// NewLikeAPI creates a new like API
func NewLikeAPI(service *graph.Service, views *graph.ViewBuilder) *LikeAPI {
	return &LikeAPI{
		service: service,
		views:   views,
		logger:  logging.WithComponent("social-api-like"),
	}
}

// GetFavorites handles social.get_favorites
func (l *LikeAPI) GetFavorites(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := stringParams(params, "userId")
	if err != nil {
		return nil, err
	}
	entries, err := l.views.ListLikedItems(c.Request.Context(), p[0])
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []graph.LikedItemEntry{}
	}
	l.logger.Debug("Listed favorites", zap.String("user_id", p[0]), zap.Int("count", len(entries)))
	return map[string]interface{}{
		"userId":    p[0],
		"favorites": entries,
		"count":     len(entries),
	}, nil
}

// GetLikeCount handles social.get_like_count
func (l *LikeAPI) GetLikeCount(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := stringParams(params, "itemId")
	if err != nil {
		return nil, err
	}
	count, err := l.views.LikeCount(c.Request.Context(), p[0])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"itemId": p[0], "likesCount": count}, nil
}

// IsLiked handles social.is_liked
func (l *LikeAPI) IsLiked(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := stringParams(params, "userId", "itemId")
	if err != nil {
		return nil, err
	}
	status, err := l.service.IsLiked(c.Request.Context(), p[0], p[1])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"isLiked": status.Related,
		"likedAt": status.Since,
	}, nil
}
