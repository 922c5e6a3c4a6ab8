package models

import (
	"time"
)

// Follow represents a follow relationship. The composite primary key is the
// uniqueness constraint that arbitrates concurrent follow requests.
type Follow struct {
	FollowerID string    `gorm:"primaryKey;type:uuid;index:follows_follower_idx;column:follower_id" bson:"followerId"`
	FolloweeID string    `gorm:"primaryKey;type:uuid;index:follows_followee_idx;column:followee_id" bson:"followingId"`
	CreatedAt  time.Time `gorm:"not null;column:created_at" bson:"createdAt"`

	// Relationships
	Follower *User `gorm:"foreignKey:FollowerID;references:ID" bson:"-"`
	Followee *User `gorm:"foreignKey:FolloweeID;references:ID" bson:"-"`
}

// TableName specifies the table name for Follow
func (Follow) TableName() string {
	return "follows"
}
