package models

import (
	"time"
)

// User represents an account as seen by the social graph. Profile fields are
// owned by the account service; the graph only touches the two counters.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid;column:id" bson:"_id" json:"id"`
	Name     string `gorm:"type:varchar(100);not null;default:'';column:name" bson:"name" json:"name"`
	Username string `gorm:"type:varchar(50);not null;default:'';column:username" bson:"username" json:"username"`
	Email    string `gorm:"type:varchar(255);not null;default:'';column:email" bson:"email" json:"email"`

	// Social stats
	FollowersCount int64 `gorm:"not null;default:0;column:followers_count" bson:"followersCount" json:"followersCount"`
	FollowingCount int64 `gorm:"not null;default:0;column:following_count" bson:"followingCount" json:"followingCount"`

	CreatedAt time.Time `gorm:"not null;column:created_at" bson:"createdAt" json:"createdAt"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
