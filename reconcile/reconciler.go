package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/posts"
)

const (
	DefaultSafetyWindow = 7 * 24 * time.Hour
	DefaultLimit        = 50
)

type Mode int

const (
	ModeResume Mode = iota
	ModeCatchUp
	ModeFreshWindow
)

func (m Mode) String() string {
	switch m {
	case ModeResume:
		return "resume"
	case ModeCatchUp:
		return "catch-up"
	case ModeFreshWindow:
		return "fresh-window"
	default:
		return "unknown"
	}
}

// StopReason is the branch that ended a walk.
type StopReason int

const (
	StopEndOfFeed StopReason = iota
	StopFetchError
	StopCutoff
	StopCheckpoint
	StopLimit
	StopCatchUpDone
	StopWindowEnd
)

func (s StopReason) String() string {
	switch s {
	case StopEndOfFeed:
		return "end of feed"
	case StopFetchError:
		return "fetch error"
	case StopCutoff:
		return "safety window cutoff"
	case StopCheckpoint:
		return "checkpoint reached"
	case StopLimit:
		return "limit reached"
	case StopCatchUpDone:
		return "catch-up complete"
	case StopWindowEnd:
		return "refresh window end"
	default:
		return "unknown"
	}
}

// Seen reports whether a shortcode was already delivered.
type Seen interface {
	Contains(shortcode string) bool
}

type Options struct {
	// SafetyWindow bounds how far back a resume walk looks for the checkpoint.
	SafetyWindow time.Duration
	// Limit caps the items accepted by one resume walk.
	Limit int
	// CatchUp is the number of newest items sent on a first run. Zero means
	// only items published within RefreshInterval.
	CatchUp         int
	RefreshInterval time.Duration
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		SafetyWindow: DefaultSafetyWindow,
		Limit:        DefaultLimit,
		Now:          time.Now,
	}
}

// Result is the outcome of one walk. Items are oldest-first.
type Result struct {
	Items []posts.FeedItem
	Mode  Mode
	Stop  StopReason
	// Err is the transient fetch error that truncated the walk, if any.
	Err error
}

// Reconciler decides which feed items have not been delivered yet.
type Reconciler struct {
	opts   Options
	logger *log.Logger
}

func New(opts Options, l *log.Logger) *Reconciler {
	if opts.SafetyWindow <= 0 {
		opts.SafetyWindow = DefaultSafetyWindow
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if l == nil {
		l = logger.Logger
	}
	return &Reconciler{opts: opts, logger: l}
}

func (r *Reconciler) Options() Options {
	return r.opts
}

// Reconcile walks cursor newest-first. With a checkpoint it collects what was
// published after it; without one it seeds according to CatchUp. Transient
// fetch errors truncate the walk and are reported in Result.Err. Only
// posts.ErrLoginRequired and context cancellation are returned as errors.
func (r *Reconciler) Reconcile(ctx context.Context, cursor posts.Cursor, checkpoint string, seen Seen) (Result, error) {
	now := r.opts.Now().UTC()

	var res Result
	var err error
	switch {
	case checkpoint != "":
		res, err = r.resume(ctx, cursor, checkpoint, seen, now)
	case r.opts.CatchUp > 0:
		res, err = r.catchUp(ctx, cursor)
	default:
		res, err = r.freshWindow(ctx, cursor, now)
	}
	reverse(res.Items)
	return res, err
}

func (r *Reconciler) resume(ctx context.Context, cursor posts.Cursor, checkpoint string, seen Seen, now time.Time) (Result, error) {
	res := Result{Mode: ModeResume}
	cutoff := now.Add(-r.opts.SafetyWindow)

	for {
		item, stop, err := r.next(ctx, cursor, &res)
		if stop || err != nil {
			return res, err
		}

		// Pinned posts head the feed whatever their age, so they neither end
		// the walk nor match the checkpoint.
		switch {
		case item.IsPinned:
			logger.Debugf("Skipping pinned post %s", item.Shortcode)
		case item.Date.UTC().Before(cutoff):
			r.logger.Printf("Post %s is older than %s; checkpoint %s not reached, stopping", item.Shortcode, r.opts.SafetyWindow, checkpoint)
			res.Stop = StopCutoff
			return res, nil
		case item.Shortcode == checkpoint:
			res.Stop = StopCheckpoint
			return res, nil
		case seen != nil && seen.Contains(item.Shortcode):
			logger.Debugf("Skipping already sent post %s", item.Shortcode)
		default:
			res.Items = append(res.Items, item)
			if len(res.Items) >= r.opts.Limit {
				r.logger.Printf("[WARN] Checkpoint %s not found within limit of %d posts", checkpoint, r.opts.Limit)
				res.Stop = StopLimit
				return res, nil
			}
		}
	}
}

func (r *Reconciler) catchUp(ctx context.Context, cursor posts.Cursor) (Result, error) {
	res := Result{Mode: ModeCatchUp}
	for len(res.Items) < r.opts.CatchUp {
		item, stop, err := r.next(ctx, cursor, &res)
		if stop || err != nil {
			return res, err
		}
		res.Items = append(res.Items, item)
	}
	res.Stop = StopCatchUpDone
	return res, nil
}

// freshWindow accepts items with until < date <= now. The walk ends at the
// first unpinned item at or before until; pinned items outside the window are
// passed over since they are not in chronological position.
func (r *Reconciler) freshWindow(ctx context.Context, cursor posts.Cursor, now time.Time) (Result, error) {
	res := Result{Mode: ModeFreshWindow}
	until := now.Add(-r.opts.RefreshInterval)

	for {
		item, stop, err := r.next(ctx, cursor, &res)
		if stop || err != nil {
			return res, err
		}

		date := item.Date.UTC()
		switch {
		case date.After(now):
			logger.Debugf("Skipping post %s dated in the future", item.Shortcode)
		case date.After(until):
			res.Items = append(res.Items, item)
		case item.IsPinned:
			logger.Debugf("Skipping pinned post %s outside the refresh window", item.Shortcode)
		default:
			res.Stop = StopWindowEnd
			return res, nil
		}
	}
}

// next pulls one item. stop is set when the walk ended on the cursor side;
// err is set only for errors the caller must not swallow.
func (r *Reconciler) next(ctx context.Context, cursor posts.Cursor, res *Result) (posts.FeedItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return posts.FeedItem{}, true, err
	}
	item, err := cursor.Next(ctx)
	switch {
	case err == nil:
		return item, false, nil
	case errors.Is(err, posts.ErrEndOfFeed):
		res.Stop = StopEndOfFeed
		return item, true, nil
	case errors.Is(err, posts.ErrLoginRequired):
		return item, true, err
	case ctx.Err() != nil:
		return item, true, ctx.Err()
	default:
		r.logger.Printf("[WARN] Feed fetch failed after %d posts, continuing with what was gathered: %v", len(res.Items), err)
		res.Stop = StopFetchError
		res.Err = err
		return item, true, nil
	}
}

func reverse(items []posts.FeedItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
