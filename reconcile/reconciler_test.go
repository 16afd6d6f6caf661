package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/agnosto/instawebhooks/memory"
	"github.com/agnosto/instawebhooks/posts"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func newReconciler(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	return New(opts, log.New(io.Discard, "", 0))
}

func item(shortcode string, age time.Duration) posts.FeedItem {
	return posts.FeedItem{Shortcode: shortcode, Date: now.Add(-age), Typename: "GraphImage"}
}

func pinned(shortcode string, age time.Duration) posts.FeedItem {
	p := item(shortcode, age)
	p.IsPinned = true
	return p
}

func shortcodes(items []posts.FeedItem) string {
	codes := make([]string, len(items))
	for i, it := range items {
		codes[i] = it.Shortcode
	}
	return strings.Join(codes, ",")
}

type seenSet map[string]bool

func (s seenSet) Contains(shortcode string) bool { return s[shortcode] }

func TestResume(t *testing.T) {
	tests := []struct {
		name       string
		feed       []posts.FeedItem
		feedErr    error
		checkpoint string
		seen       Seen
		limit      int
		want       string
		stop       StopReason
	}{
		{
			name: "three newer posts before checkpoint",
			feed: []posts.FeedItem{
				item("C", 1*time.Hour), item("B", 2*time.Hour), item("A", 3*time.Hour),
				item("CKPT", 4*time.Hour), item("OLD", 5*time.Hour),
			},
			checkpoint: "CKPT",
			want:       "A,B,C",
			stop:       StopCheckpoint,
		},
		{
			name:       "checkpoint is newest",
			feed:       []posts.FeedItem{item("CKPT", time.Hour), item("X", 2*time.Hour)},
			checkpoint: "CKPT",
			want:       "",
			stop:       StopCheckpoint,
		},
		{
			name: "pinned posts are skipped",
			feed: []posts.FeedItem{
				pinned("PIN1", 30*24*time.Hour), item("B", time.Hour), pinned("PIN2", 2*time.Hour),
				item("A", 3*time.Hour), item("CKPT", 4*time.Hour),
			},
			checkpoint: "CKPT",
			want:       "A,B",
			stop:       StopCheckpoint,
		},
		{
			name: "old pinned post does not end the walk",
			feed: []posts.FeedItem{
				pinned("PIN", 60*24*time.Hour), item("NEW", time.Hour), item("CKPT", 2*time.Hour),
			},
			checkpoint: "CKPT",
			want:       "NEW",
			stop:       StopCheckpoint,
		},
		{
			name: "pinned checkpoint is passed over",
			feed: []posts.FeedItem{
				pinned("PIN", 3*24*time.Hour), item("C", time.Hour), item("A", 24*time.Hour), item("B", 48*time.Hour),
			},
			checkpoint: "PIN",
			seen:       seenSet{"PIN": true, "A": true, "B": true},
			want:       "C",
			stop:       StopEndOfFeed,
		},
		{
			name: "stops at safety window",
			feed: []posts.FeedItem{
				item("B", time.Hour), item("A", 6*24*time.Hour), item("OLD1", 8*24*time.Hour), item("OLD2", 9*24*time.Hour),
			},
			checkpoint: "GONE",
			want:       "A,B",
			stop:       StopCutoff,
		},
		{
			name:       "every post older than window",
			feed:       []posts.FeedItem{item("OLD1", 8*24*time.Hour), item("OLD2", 9*24*time.Hour)},
			checkpoint: "GONE",
			want:       "",
			stop:       StopCutoff,
		},
		{
			name:       "end of feed without checkpoint",
			feed:       []posts.FeedItem{item("B", time.Hour), item("A", 2*time.Hour)},
			checkpoint: "GONE",
			want:       "A,B",
			stop:       StopEndOfFeed,
		},
		{
			name: "transient error keeps gathered posts",
			feed: []posts.FeedItem{item("B", time.Hour), item("A", 2*time.Hour)},
			feedErr: &posts.ConnectionError{
				Op: "feed page", StatusCode: 429,
			},
			checkpoint: "GONE",
			want:       "A,B",
			stop:       StopFetchError,
		},
		{
			name: "already sent posts are skipped",
			feed: []posts.FeedItem{
				item("NEW", time.Hour), item("SENT", 2*time.Hour), item("CKPT", 3*time.Hour),
			},
			checkpoint: "CKPT",
			seen:       seenSet{"SENT": true},
			want:       "NEW",
			stop:       StopCheckpoint,
		},
		{
			name: "limit",
			feed: []posts.FeedItem{
				item("D", 1*time.Hour), item("C", 2*time.Hour), item("B", 3*time.Hour), item("A", 4*time.Hour),
			},
			checkpoint: "GONE",
			limit:      3,
			want:       "B,C,D",
			stop:       StopLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReconciler(Options{Limit: tt.limit})
			cursor := &posts.SliceCursor{Items: tt.feed, Err: tt.feedErr}

			res, err := r.Reconcile(context.Background(), cursor, tt.checkpoint, tt.seen)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := shortcodes(res.Items); got != tt.want {
				t.Errorf("items = %q, want %q", got, tt.want)
			}
			if res.Stop != tt.stop {
				t.Errorf("stop = %v, want %v", res.Stop, tt.stop)
			}
			if res.Mode != ModeResume {
				t.Errorf("mode = %v, want resume", res.Mode)
			}
			if (tt.feedErr != nil) != (res.Err != nil) {
				t.Errorf("result err = %v, feed err = %v", res.Err, tt.feedErr)
			}
		})
	}
}

func TestResumePinnedPostsDoNotCountTowardLimit(t *testing.T) {
	var feed []posts.FeedItem
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			feed = append(feed, pinned(fmt.Sprintf("PIN%02d", i), time.Duration(i+1)*time.Minute))
		} else {
			feed = append(feed, item(fmt.Sprintf("P%02d", i), time.Duration(i+1)*time.Minute))
		}
	}
	feed = append(feed, item("CKPT", 2*time.Hour))

	r := newReconciler(Options{})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "CKPT", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 30 {
		t.Fatalf("expected 30 unpinned posts, got %d", len(res.Items))
	}
	if res.Stop != StopCheckpoint {
		t.Fatalf("expected checkpoint stop, got %v", res.Stop)
	}
	for _, it := range res.Items {
		if it.IsPinned {
			t.Fatalf("pinned post %s accepted", it.Shortcode)
		}
	}
}

func TestResumeDefaultLimitIsFifty(t *testing.T) {
	var feed []posts.FeedItem
	for i := 0; i < 80; i++ {
		feed = append(feed, item(fmt.Sprintf("P%02d", i), time.Duration(i+1)*time.Minute))
	}

	r := newReconciler(Options{})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "GONE", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 50 || res.Stop != StopLimit {
		t.Fatalf("expected 50 posts and limit stop, got %d and %v", len(res.Items), res.Stop)
	}
	if res.Items[0].Shortcode != "P49" || res.Items[49].Shortcode != "P00" {
		t.Fatalf("expected oldest-first P49..P00, got %s..%s", res.Items[0].Shortcode, res.Items[49].Shortcode)
	}
}

func TestResumeComparesAcrossZones(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	newYork := time.FixedZone("EST", -5*60*60)
	local := time.Local

	feed := []posts.FeedItem{
		{Shortcode: "TOKYO", Date: now.Add(-time.Hour).In(tokyo)},
		{Shortcode: "LOCAL", Date: now.Add(-2 * time.Hour).In(local)},
		{Shortcode: "NY_OLD", Date: now.Add(-8 * 24 * time.Hour).In(newYork)},
	}

	r := newReconciler(Options{})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "GONE", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "LOCAL,TOKYO" {
		t.Fatalf("items = %q", got)
	}
	if res.Stop != StopCutoff {
		t.Fatalf("expected cutoff, got %v", res.Stop)
	}
}

// The index only covers the last MaxSentPosts sends. A post evicted from it
// is still not resent because the walk ends at the checkpoint first.
func TestCheckpointGuardsBeyondDedupWindow(t *testing.T) {
	record := memory.NewSyncRecord()
	record.Commit(memory.NewEntry(item("EVICTED", 5*time.Hour), now), now)
	for i := 0; i < memory.MaxSentPosts; i++ {
		record.Commit(memory.NewEntry(item(fmt.Sprintf("P%03d", i), 4*time.Hour), now), now)
	}
	index := memory.NewIndex(record)
	if index.Contains("EVICTED") {
		t.Fatalf("expected EVICTED to have left the index")
	}
	if record.Checkpoint() != "P099" {
		t.Fatalf("unexpected checkpoint %q", record.Checkpoint())
	}

	feed := []posts.FeedItem{item("NEW", time.Hour), item("P099", 4*time.Hour), item("EVICTED", 5*time.Hour)}
	r := newReconciler(Options{})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), record.Checkpoint(), index)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "NEW" {
		t.Fatalf("items = %q, want NEW", got)
	}

	// Without the checkpoint the index alone lets the evicted post through.
	res, err = r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "GONE", index)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "EVICTED,NEW" {
		t.Fatalf("items = %q, want EVICTED,NEW", got)
	}
}

func TestResumeLoginRequiredIsReturned(t *testing.T) {
	cursor := &posts.SliceCursor{
		Items: []posts.FeedItem{item("A", time.Hour)},
		Err:   fmt.Errorf("feed page: %w", posts.ErrLoginRequired),
	}
	r := newReconciler(Options{})
	_, err := r.Reconcile(context.Background(), cursor, "GONE", nil)
	if !errors.Is(err, posts.ErrLoginRequired) {
		t.Fatalf("expected login required, got %v", err)
	}
}

func TestReconcileHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newReconciler(Options{})
	_, err := r.Reconcile(ctx, posts.NewSliceCursor([]posts.FeedItem{item("A", time.Hour)}), "GONE", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCatchUp(t *testing.T) {
	feed := []posts.FeedItem{
		pinned("PIN", 400*24*time.Hour),
		item("ANCIENT", 300*24*time.Hour),
		item("NEWER", time.Hour),
	}
	r := newReconciler(Options{CatchUp: 2, RefreshInterval: time.Hour})

	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "ANCIENT,PIN" {
		t.Fatalf("items = %q, want ANCIENT,PIN", got)
	}
	if res.Mode != ModeCatchUp || res.Stop != StopCatchUpDone {
		t.Fatalf("mode/stop = %v/%v", res.Mode, res.Stop)
	}
}

func TestCatchUpShortFeed(t *testing.T) {
	r := newReconciler(Options{CatchUp: 5})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor([]posts.FeedItem{item("ONLY", time.Hour)}), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "ONLY" || res.Stop != StopEndOfFeed {
		t.Fatalf("items = %q stop = %v", got, res.Stop)
	}
}

func TestFreshWindow(t *testing.T) {
	feed := []posts.FeedItem{
		item("FUTURE", -time.Minute),
		pinned("OLD_PIN", 90*24*time.Hour),
		item("RECENT2", 10*time.Minute),
		pinned("RECENT_PIN", 20*time.Minute),
		item("RECENT1", 50*time.Minute),
		item("EDGE", time.Hour),
		item("STALE", 2*time.Hour),
	}
	r := newReconciler(Options{RefreshInterval: time.Hour})

	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor(feed), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shortcodes(res.Items); got != "RECENT1,RECENT_PIN,RECENT2" {
		t.Fatalf("items = %q", got)
	}
	if res.Mode != ModeFreshWindow || res.Stop != StopWindowEnd {
		t.Fatalf("mode/stop = %v/%v", res.Mode, res.Stop)
	}
}

func TestFreshWindowNothingNew(t *testing.T) {
	r := newReconciler(Options{RefreshInterval: time.Hour})
	res, err := r.Reconcile(context.Background(), posts.NewSliceCursor([]posts.FeedItem{item("OLD", 3*time.Hour)}), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 0 || res.Stop != StopWindowEnd {
		t.Fatalf("expected empty window, got %q stop %v", shortcodes(res.Items), res.Stop)
	}
}
