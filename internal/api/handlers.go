package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chicify/socialgraph/internal/graph"
)

// followRequest is the body of POST /api/follow. followingId is accepted as
// an alias of followeeId for older clients.
type followRequest struct {
	FollowerID  string       `json:"followerId" binding:"required"`
	FolloweeID  string       `json:"followeeId" binding:"required_without=FollowingID"`
	FollowingID string       `json:"followingId"`
	Action      graph.Action `json:"action" binding:"required,oneof=follow unfollow"`
}

type followQuery struct {
	FollowerID  string `form:"followerId" binding:"required"`
	FolloweeID  string `form:"followeeId" binding:"required_without=FollowingID"`
	FollowingID string `form:"followingId"`
}

// likeRequest is the body of POST /api/like. outfitId is accepted as an
// alias of itemId.
type likeRequest struct {
	UserID   string       `json:"userId" binding:"required"`
	ItemID   string       `json:"itemId" binding:"required_without=OutfitID"`
	OutfitID string       `json:"outfitId"`
	Action   graph.Action `json:"action" binding:"required,oneof=like unlike"`
}

type unlikeRequest struct {
	UserID   string `json:"userId" binding:"required"`
	ItemID   string `json:"itemId" binding:"required_without=OutfitID"`
	OutfitID string `json:"outfitId"`
}

type likeQuery struct {
	UserID   string `form:"userId" binding:"required"`
	ItemID   string `form:"itemId" binding:"required_without=OutfitID"`
	OutfitID string `form:"outfitId"`
}

type userQuery struct {
	UserID string `form:"userId" binding:"required"`
}

func either(primary, alias string) string {
	if primary != "" {
		return primary
	}
	return alias
}

// postFollow handles POST /api/follow
func (r *Router) postFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	outcome, err := r.service.Apply(c.Request.Context(), req.Action, req.FollowerID, either(req.FolloweeID, req.FollowingID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": outcome})
}

// getFollow handles GET /api/follow
func (r *Router) getFollow(c *gin.Context) {
	var q followQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	status, err := r.service.IsFollowing(c.Request.Context(), q.FollowerID, either(q.FolloweeID, q.FollowingID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isFollowing": status.Related, "followedAt": statusTime(status.Since)})
}

// getFollowing handles GET /api/following
func (r *Router) getFollowing(c *gin.Context) {
	r.listFollows(c, "following", r.views.ListFollowing)
}

// getFollowers handles GET /api/followers
func (r *Router) getFollowers(c *gin.Context) {
	r.listFollows(c, "followers", r.views.ListFollowers)
}

func (r *Router) listFollows(c *gin.Context, key string, list func(ctx context.Context, userID string) ([]graph.FollowEntry, error)) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	entries, err := list(c.Request.Context(), q.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []graph.FollowEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, key: entries, "count": len(entries)})
}

// postLike handles POST /api/like
func (r *Router) postLike(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	outcome, err := r.service.Apply(c.Request.Context(), req.Action, req.UserID, either(req.ItemID, req.OutfitID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": outcome})
}

// getLike handles GET /api/like
func (r *Router) getLike(c *gin.Context) {
	var q likeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	status, err := r.service.IsLiked(c.Request.Context(), q.UserID, either(q.ItemID, q.OutfitID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "isLiked": status.Related, "likedAt": statusTime(status.Since)})
}

// getFavorites handles GET /api/favorites
func (r *Router) getFavorites(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	entries, err := r.views.ListLikedItems(c.Request.Context(), q.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []graph.LikedItemEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "favorites": entries, "count": len(entries)})
}

// deleteFavorite handles DELETE /api/favorites
func (r *Router) deleteFavorite(c *gin.Context) {
	var req unlikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if err := r.service.Unlike(c.Request.Context(), req.UserID, either(req.ItemID, req.OutfitID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": graph.ActionUnliked})
}

// getUserCounts handles GET /api/users/:id/counts
func (r *Router) getUserCounts(c *gin.Context) {
	counts, err := r.views.FollowCounts(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// getItemLikes handles GET /api/items/:id/likes
func (r *Router) getItemLikes(c *gin.Context) {
	itemID, err := graph.NormalizeID("itemId", c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	count, err := r.views.LikeCount(c.Request.Context(), itemID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"itemId": itemID, "likesCount": count})
}

// statusTime keeps null timestamps explicit in JSON
func statusTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
