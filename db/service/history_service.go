package service

import (
	"time"

	"github.com/agnosto/instawebhooks/db/models"
	"github.com/agnosto/instawebhooks/db/repository"
	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/posts"
)

// HistoryService records every delivered post for reporting.
type HistoryService struct {
	repo repository.SentPostRepository
}

func NewHistoryService(repo repository.SentPostRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// RecordSent saves a delivered post.
func (s *HistoryService) RecordSent(entity string, item posts.FeedItem, sentAt time.Time) error {
	post := &models.SentPost{
		Entity:         entity,
		Shortcode:      item.Shortcode,
		Type:           item.Typename,
		TypeDisplay:    item.TypeDisplay(),
		IsVideo:        item.IsVideo,
		IsPinned:       item.IsPinned,
		CaptionPreview: item.CaptionPreview(),
		URL:            item.PostURL(),
		PostedAt:       item.Date.UTC(),
		SentAt:         sentAt.UTC(),
		SendCount:      1,
	}
	return s.repo.Upsert(post)
}

// WasSent reports whether entity ever delivered shortcode.
func (s *HistoryService) WasSent(entity, shortcode string) bool {
	exists, err := s.repo.Exists(entity, shortcode)
	if err != nil {
		logger.Logger.Printf("Error checking send history: %v", err)
		return false
	}
	return exists
}

// Summary is the all-time history of one entity.
type Summary struct {
	Entity     string
	Total      int64
	TypeCounts map[string]int64
	Recent     []models.SentPost
}

func (s *HistoryService) Summary(entity string, recent int) (*Summary, error) {
	total, err := s.repo.CountByEntity(entity)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByType(entity)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.FindRecent(entity, recent)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Entity:     entity,
		Total:      total,
		TypeCounts: make(map[string]int64, len(counts)),
		Recent:     latest,
	}
	for _, c := range counts {
		summary.TypeCounts[c.TypeDisplay] = c.Count
	}
	return summary, nil
}

func (s *HistoryService) Entities() ([]string, error) {
	return s.repo.Entities()
}
