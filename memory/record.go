package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agnosto/instawebhooks/posts"
)

// MaxSentPosts is how many entries SentPosts retains.
const MaxSentPosts = 100

// timestampLayout always renders a numeric offset, "+00:00" for UTC.
const timestampLayout = "2006-01-02T15:04:05.999999-07:00"

// Zone-less layouts written by older versions; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Timestamp is a UTC instant that serialises with an explicit offset.
type Timestamp struct {
	time.Time
}

// NewTimestamp keeps microsecond precision, the finest timestampLayout
// writes, so a record compares equal to itself after a save and load.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

func (t Timestamp) String() string {
	return t.UTC().Format(timestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp accepts ISO-8601 with or without an offset. Values without
// one are taken to be UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// SentPostEntry is one delivered post.
type SentPostEntry struct {
	Shortcode      string    `json:"shortcode"`
	Timestamp      Timestamp `json:"timestamp"`
	SentAt         Timestamp `json:"sent_at"`
	Type           string    `json:"type"`
	TypeDisplay    string    `json:"type_display"`
	IsVideo        bool      `json:"is_video"`
	IsPinned       bool      `json:"is_pinned"`
	CaptionPreview string    `json:"caption_preview"`
	URL            string    `json:"url"`
}

// Stats summarises every send, including entries since trimmed from
// SentPosts.
type Stats struct {
	TotalSent         int            `json:"total_sent"`
	LastPostShortcode *string        `json:"last_post_shortcode"`
	LastPostTimestamp *Timestamp     `json:"last_post_timestamp"`
	LastPostType      *string        `json:"last_post_type"`
	TypeCounts        map[string]int `json:"type_counts"`
}

// SyncRecord is the persisted checkpoint for one monitored account.
type SyncRecord struct {
	LastCheck *Timestamp      `json:"last_check"`
	SentPosts []SentPostEntry `json:"sent_posts"`
	Stats     Stats           `json:"stats"`
}

// NewSyncRecord returns the state of an account that was never polled.
func NewSyncRecord() *SyncRecord {
	return &SyncRecord{
		SentPosts: []SentPostEntry{},
		Stats: Stats{
			TypeCounts: map[string]int{},
		},
	}
}

// Checkpoint is the shortcode of the most recently committed post, or "".
func (r *SyncRecord) Checkpoint() string {
	if r.Stats.LastPostShortcode == nil {
		return ""
	}
	return *r.Stats.LastPostShortcode
}

// ResumeAnchor is the shortcode a resume walk stops at: the newest sent post
// that was not pinned when it was sent. Pinned posts sit at the head of the
// feed, so they cannot mark a chronological position. Falls back to
// Checkpoint when every retained post was pinned.
func (r *SyncRecord) ResumeAnchor() string {
	for _, entry := range r.SentPosts {
		if !entry.IsPinned {
			return entry.Shortcode
		}
	}
	return r.Checkpoint()
}

// NewEntry normalises a feed item into a history entry.
func NewEntry(item posts.FeedItem, sentAt time.Time) SentPostEntry {
	return SentPostEntry{
		Shortcode:      item.Shortcode,
		Timestamp:      NewTimestamp(item.Date),
		SentAt:         NewTimestamp(sentAt),
		Type:           item.Typename,
		TypeDisplay:    item.TypeDisplay(),
		IsVideo:        item.IsVideo,
		IsPinned:       item.IsPinned,
		CaptionPreview: item.CaptionPreview(),
		URL:            item.PostURL(),
	}
}

// Commit records entry as the newest send: it is prepended, the counters are
// advanced and the list is trimmed to MaxSentPosts.
func (r *SyncRecord) Commit(entry SentPostEntry, now time.Time) {
	r.SentPosts = append([]SentPostEntry{entry}, r.SentPosts...)
	if len(r.SentPosts) > MaxSentPosts {
		r.SentPosts = r.SentPosts[:MaxSentPosts]
	}

	if r.Stats.TypeCounts == nil {
		r.Stats.TypeCounts = map[string]int{}
	}
	r.Stats.TotalSent++
	if entry.TypeDisplay != "" {
		r.Stats.TypeCounts[entry.TypeDisplay]++
	}
	r.syncLastPost()

	checked := NewTimestamp(now)
	r.LastCheck = &checked
}

// syncLastPost mirrors the head of SentPosts into Stats.
func (r *SyncRecord) syncLastPost() {
	if len(r.SentPosts) == 0 {
		r.Stats.LastPostShortcode = nil
		r.Stats.LastPostTimestamp = nil
		r.Stats.LastPostType = nil
		return
	}
	head := r.SentPosts[0]
	shortcode := head.Shortcode
	ts := head.Timestamp
	r.Stats.LastPostShortcode = &shortcode
	r.Stats.LastPostTimestamp = &ts
	if head.TypeDisplay != "" {
		display := head.TypeDisplay
		r.Stats.LastPostType = &display
	} else {
		r.Stats.LastPostType = nil
	}
}

// normalize repairs records written by hand or by older versions: the list
// is capped, the total is at least its length and the last_post fields match
// its head.
func (r *SyncRecord) normalize() {
	if r.SentPosts == nil {
		r.SentPosts = []SentPostEntry{}
	}
	if r.Stats.TypeCounts == nil {
		r.Stats.TypeCounts = map[string]int{}
	}
	if len(r.SentPosts) > MaxSentPosts {
		r.SentPosts = r.SentPosts[:MaxSentPosts]
	}
	if r.Stats.TotalSent < len(r.SentPosts) {
		r.Stats.TotalSent = len(r.SentPosts)
	}
	if len(r.SentPosts) > 0 {
		r.syncLastPost()
	}
}
