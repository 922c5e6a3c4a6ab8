package graph

import (
	"time"
)

// Kind identifies a relationship type
type Kind string

const (
	KindFollow Kind = "follow"
	KindLike   Kind = "like"
)

// Action is a requested transition or the outcome reported back to callers
type Action string

const (
	ActionFollow   Action = "follow"
	ActionUnfollow Action = "unfollow"
	ActionLike     Action = "like"
	ActionUnlike   Action = "unlike"

	ActionFollowed   Action = "followed"
	ActionUnfollowed Action = "unfollowed"
	ActionLiked      Action = "liked"
	ActionUnliked    Action = "unliked"
)

// Edge is a directed relationship record. For follows Source is the follower
// and Target the followee; for likes Source is the user and Target the item.
type Edge struct {
	Kind      Kind
	Source    string
	Target    string
	CreatedAt time.Time
}

// Status answers a point query
type Status struct {
	Related bool
	Since   *time.Time
}

// UserSummary is the peer projection used by list views
type UserSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	FollowersCount int64  `json:"followersCount"`
	FollowingCount int64  `json:"followingCount"`
}

// ItemSummary is the item projection used by the liked-items view
type ItemSummary struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	ImageURL   string   `json:"imageUrl"`
	Tags       []string `json:"tags"`
	LikesCount int64    `json:"likesCount"`
}

// FollowEntry is one row of a following/followers list
type FollowEntry struct {
	Peer       UserSummary `json:"user"`
	FollowedAt time.Time   `json:"followedAt"`
}

// LikedItemEntry is one row of a liked-items list
type LikedItemEntry struct {
	Item    ItemSummary `json:"item"`
	Owner   UserSummary `json:"owner"`
	LikedAt time.Time   `json:"likedAt"`
}

// FollowCounts holds the denormalized follow counters of a user
type FollowCounts struct {
	UserID         string `json:"userId"`
	FollowersCount int64  `json:"followersCount"`
	FollowingCount int64  `json:"followingCount"`
}
