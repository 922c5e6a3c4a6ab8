package models

import (
	"time"
)

// Like represents a user liking an item
type Like struct {
	UserID    string    `gorm:"primaryKey;type:uuid;index:likes_user_idx;column:user_id" bson:"userId"`
	ItemID    string    `gorm:"primaryKey;type:uuid;index:likes_item_idx;column:item_id" bson:"outfitId"`
	CreatedAt time.Time `gorm:"not null;column:created_at" bson:"createdAt"`

	// Relationships
	User *User `gorm:"foreignKey:UserID;references:ID" bson:"-"`
	Item *Item `gorm:"foreignKey:ItemID;references:ID" bson:"-"`
}

// TableName specifies the table name for Like
func (Like) TableName() string {
	return "likes"
}
