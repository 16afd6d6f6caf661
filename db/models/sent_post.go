package models

import (
	"time"
)

// SentPost is one delivered post. Unlike the state file it is never trimmed.
type SentPost struct {
	ID             uint   `gorm:"primaryKey"`
	Entity         string `gorm:"uniqueIndex:idx_sent_posts_entity_shortcode;index;not null"`
	Shortcode      string `gorm:"uniqueIndex:idx_sent_posts_entity_shortcode;not null"`
	Type           string
	TypeDisplay    string `gorm:"index"`
	IsVideo        bool
	IsPinned       bool
	CaptionPreview string
	URL            string
	PostedAt       time.Time
	SentAt         time.Time `gorm:"index"`
	SendCount      int       `gorm:"not null;default:1"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName overrides the table name
func (SentPost) TableName() string {
	return "sent_posts"
}
