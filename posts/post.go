package posts

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const captionPreviewLength = 100

// FeedItem is one post as delivered by the feed, newest-first.
type FeedItem struct {
	Shortcode          string
	Date               time.Time
	IsPinned           bool
	Typename           string
	IsVideo            bool
	Caption            string
	URL                string // display image
	OwnerUsername      string
	OwnerFullName      string
	OwnerProfilePicURL string
}

var typeDisplayNames = map[string]string{
	"GraphImage":   "Photo",
	"GraphVideo":   "Video",
	"GraphClip":    "Reel",
	"GraphSidecar": "Carousel",
}

// TypeDisplay maps a raw type tag to its human label.
func TypeDisplay(typename string) string {
	if display, ok := typeDisplayNames[typename]; ok {
		return display
	}
	if typename == "" {
		return "Post"
	}
	return typename
}

func (p FeedItem) TypeDisplay() string {
	return TypeDisplay(p.Typename)
}

// PostURL returns the public permalink.
func (p FeedItem) PostURL() string {
	return PostURL(p.Shortcode)
}

func PostURL(shortcode string) string {
	return fmt.Sprintf("https://www.instagram.com/p/%s/", shortcode)
}

func ProfileURL(username string) string {
	return fmt.Sprintf("https://www.instagram.com/%s/", username)
}

func (p FeedItem) OwnerURL() string {
	return ProfileURL(p.OwnerUsername)
}

// CaptionPreview truncates the caption to a fixed number of runes.
func (p FeedItem) CaptionPreview() string {
	caption := strings.TrimSpace(p.Caption)
	if utf8.RuneCountInString(caption) <= captionPreviewLength {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:captionPreviewLength]) + "..."
}

// UTCDate is the creation time normalised to UTC.
func (p FeedItem) UTCDate() time.Time {
	return p.Date.UTC()
}
