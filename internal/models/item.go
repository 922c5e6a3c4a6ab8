package models

import (
	"time"
)

// Item is an outfit shared by a user. Title, image and tags are display
// fields passed through to list views.
type Item struct {
	ID       string   `gorm:"primaryKey;type:uuid;column:id" bson:"_id" json:"id"`
	OwnerID  string   `gorm:"type:uuid;not null;index:outfits_owner_idx;column:user_id" bson:"userId" json:"ownerId"`
	Title    string   `gorm:"type:varchar(255);not null;default:'';column:title" bson:"title" json:"title"`
	ImageURL string   `gorm:"type:varchar(1024);not null;default:'';column:image_url" bson:"imageUrl" json:"imageUrl"`
	Tags     []string `gorm:"serializer:json;type:text;column:tags" bson:"tags" json:"tags"`

	LikesCount int64 `gorm:"not null;default:0;column:likes_count" bson:"likesCount" json:"likesCount"`

	CreatedAt time.Time `gorm:"not null;column:created_at" bson:"createdAt" json:"createdAt"`

	// Relationships
	Owner *User `gorm:"foreignKey:OwnerID;references:ID" bson:"-" json:"-"`
}

// TableName specifies the table name for Item
func (Item) TableName() string {
	return "outfits"
}
