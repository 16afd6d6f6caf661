package posts

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndOfFeed is returned by Cursor.Next once the feed is exhausted.
	ErrEndOfFeed = errors.New("end of feed")

	ErrProfileNotFound = errors.New("profile does not exist")
	ErrLoginRequired   = errors.New("login required")
)

// ConnectionError is a transient fetch failure: network errors, rate limits,
// server errors and malformed responses. Retrying on a later cycle is safe.
type ConnectionError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Cursor pulls feed items one at a time, newest-first. Next returns
// ErrEndOfFeed when there is nothing left, ErrLoginRequired when the session
// is no longer accepted, or any other error for a transient failure.
type Cursor interface {
	Next(ctx context.Context) (FeedItem, error)
}

// Profile is a resolved account with a handle on its post feed.
type Profile struct {
	ID            string
	Username      string
	FullName      string
	ProfilePicURL string
	PostCount     int
	IsPrivate     bool
	posts         func() Cursor
}

func NewProfile(username string, posts func() Cursor) *Profile {
	return &Profile{Username: username, posts: posts}
}

// Posts starts a fresh walk of the feed.
func (p *Profile) Posts() Cursor {
	if p.posts == nil {
		return &SliceCursor{}
	}
	return p.posts()
}

// Source resolves a username to its profile.
type Source interface {
	GetProfile(ctx context.Context, username string) (*Profile, error)
}

// SliceCursor serves a fixed list of items, then Err (or ErrEndOfFeed).
type SliceCursor struct {
	Items []FeedItem
	Err   error
	pos   int
}

func NewSliceCursor(items []FeedItem) *SliceCursor {
	return &SliceCursor{Items: items}
}

func (c *SliceCursor) Next(ctx context.Context) (FeedItem, error) {
	if err := ctx.Err(); err != nil {
		return FeedItem{}, err
	}
	if c.pos >= len(c.Items) {
		if c.Err != nil {
			return FeedItem{}, c.Err
		}
		return FeedItem{}, ErrEndOfFeed
	}
	item := c.Items[c.pos]
	c.pos++
	return item, nil
}
