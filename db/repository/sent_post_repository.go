package repository

import (
	"github.com/agnosto/instawebhooks/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TypeCount is the number of sends of one display type.
type TypeCount struct {
	TypeDisplay string
	Count       int64
}

// SentPostRepository defines the interface for sent post operations
type SentPostRepository interface {
	Upsert(post *models.SentPost) error
	Exists(entity, shortcode string) (bool, error)
	CountByEntity(entity string) (int64, error)
	CountByType(entity string) ([]TypeCount, error)
	FindRecent(entity string, limit int) ([]models.SentPost, error)
	Entities() ([]string, error)
}

// GormSentPostRepository implements SentPostRepository using GORM
type GormSentPostRepository struct {
	db *gorm.DB
}

func NewSentPostRepository(db *gorm.DB) SentPostRepository {
	return &GormSentPostRepository{db: db}
}

// Upsert inserts post, or refreshes the existing row and bumps its send
// count when the same post is delivered again.
func (r *GormSentPostRepository) Upsert(post *models.SentPost) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity"}, {Name: "shortcode"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"sent_at":         post.SentAt,
			"caption_preview": post.CaptionPreview,
			"is_pinned":       post.IsPinned,
			"send_count":      gorm.Expr("send_count + 1"),
			"updated_at":      gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(post).Error
}

func (r *GormSentPostRepository) Exists(entity, shortcode string) (bool, error) {
	var count int64
	err := r.db.Model(&models.SentPost{}).
		Where("entity = ? AND shortcode = ?", entity, shortcode).
		Count(&count).Error
	return count > 0, err
}

func (r *GormSentPostRepository) CountByEntity(entity string) (int64, error) {
	var count int64
	err := r.db.Model(&models.SentPost{}).Where("entity = ?", entity).Count(&count).Error
	return count, err
}

func (r *GormSentPostRepository) CountByType(entity string) ([]TypeCount, error) {
	var counts []TypeCount
	err := r.db.Model(&models.SentPost{}).
		Select("type_display, COUNT(*) AS count").
		Where("entity = ?", entity).
		Group("type_display").
		Order("type_display").
		Scan(&counts).Error
	return counts, err
}

// FindRecent returns the latest sends for entity, newest first.
func (r *GormSentPostRepository) FindRecent(entity string, limit int) ([]models.SentPost, error) {
	var sent []models.SentPost
	err := r.db.Where("entity = ?", entity).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&sent).Error
	return sent, err
}

func (r *GormSentPostRepository) Entities() ([]string, error) {
	var entities []string
	err := r.db.Model(&models.SentPost{}).Distinct().Order("entity").Pluck("entity", &entities).Error
	return entities, err
}
