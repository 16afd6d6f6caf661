package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/agnosto/instawebhooks/posts"
)

type capturedRequest struct {
	contentType string
	query       string
	payload     WebhookPayload
	files       map[string][]byte
}

type fakeDiscord struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	header   http.Header
	body     string
}

func newFakeDiscord(t *testing.T) (*fakeDiscord, *httptest.Server) {
	t.Helper()
	fd := &fakeDiscord{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/1/token", func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{
			contentType: r.Header.Get("Content-Type"),
			query:       r.URL.RawQuery,
			files:       map[string][]byte{},
		}
		if strings.HasPrefix(req.contentType, "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if err := json.Unmarshal([]byte(r.FormValue("payload_json")), &req.payload); err != nil {
				t.Errorf("decode payload_json: %v", err)
			}
			for field, headers := range r.MultipartForm.File {
				f, _ := headers[0].Open()
				data, _ := io.ReadAll(f)
				f.Close()
				req.files[field+"="+headers[0].Filename] = data
			}
		} else if err := json.NewDecoder(r.Body).Decode(&req.payload); err != nil {
			t.Errorf("decode json: %v", err)
		}

		fd.mu.Lock()
		fd.requests = append(fd.requests, req)
		status, header, body := fd.status, fd.header, fd.body
		fd.mu.Unlock()

		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
	mux.HandleFunc("/media/post.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("post-image-bytes"))
	})
	mux.HandleFunc("/media/pic.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("profile-pic-bytes"))
	})
	mux.HandleFunc("/media/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

func testItem(base string) posts.FeedItem {
	return posts.FeedItem{
		Shortcode:          "ABC123",
		Date:               time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
		Typename:           "GraphImage",
		Caption:            "Sunset #beach with @friend",
		URL:                base + "/media/post.jpg",
		OwnerUsername:      "someone",
		OwnerFullName:      "Some One",
		OwnerProfilePicURL: base + "/media/pic.jpg",
	}
}

func newNotifier(srv *httptest.Server, template string, noEmbed bool) *DiscordNotifier {
	return NewDiscordNotifier(DiscordOptions{
		WebhookURL:     srv.URL + "/api/webhooks/1/token",
		MessageContent: template,
		NoEmbed:        noEmbed,
		HTTPClient:     srv.Client(),
		Logger:         log.New(io.Discard, "", 0),
	})
}

func TestRenderMessage(t *testing.T) {
	item := testItem("https://cdn.example.com")
	template := "{owner_name} (@{owner_username}) posted {post_url} {post_shortcode} {owner_url} {post_image_url}: {post_caption}"

	got := RenderMessage(template, item)
	want := "Some One (@someone) posted https://www.instagram.com/p/ABC123/ ABC123 https://www.instagram.com/someone/ https://cdn.example.com/media/post.jpg: Sunset #beach with @friend"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}

	other := item
	other.Shortcode = "XYZ789"
	if got := RenderMessage("{post_shortcode}", other); got != "XYZ789" {
		t.Fatalf("template must be rendered per post, got %q", got)
	}
	if got := RenderMessage("", item); got != "" {
		t.Fatalf("empty template rendered to %q", got)
	}
}

func TestSendWithoutEmbed(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	n := newNotifier(srv, "New post {post_url}", true)

	if err := n.Send(context.Background(), testItem(srv.URL)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(fd.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fd.requests))
	}
	req := fd.requests[0]
	if req.contentType != "application/json" {
		t.Errorf("unexpected content type %s", req.contentType)
	}
	if req.query != "wait=true" {
		t.Errorf("unexpected query %q", req.query)
	}
	if req.payload.Content != "New post https://www.instagram.com/p/ABC123/" {
		t.Errorf("unexpected content %q", req.payload.Content)
	}
	if len(req.payload.Embeds) != 0 {
		t.Errorf("expected no embeds, got %d", len(req.payload.Embeds))
	}
}

func TestSendWithoutEmbedRequiresContent(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	n := newNotifier(srv, "", true)
	if err := n.Send(context.Background(), testItem(srv.URL)); err == nil {
		t.Fatal("expected error for empty message")
	}
	if len(fd.requests) != 0 {
		t.Fatalf("nothing should be posted, got %d requests", len(fd.requests))
	}
}

func TestSendEmbedUploadsAttachments(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	n := newNotifier(srv, "", false)

	if err := n.Send(context.Background(), testItem(srv.URL)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(fd.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fd.requests))
	}
	req := fd.requests[0]
	if !strings.HasPrefix(req.contentType, "multipart/form-data") {
		t.Fatalf("expected multipart request, got %s", req.contentType)
	}
	if string(req.files["files[0]=post_image.webp"]) != "post-image-bytes" {
		t.Errorf("post image not uploaded: %v", req.files)
	}
	if string(req.files["files[1]=profile_pic.webp"]) != "profile-pic-bytes" {
		t.Errorf("profile picture not uploaded: %v", req.files)
	}

	if len(req.payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(req.payload.Embeds))
	}
	embed := req.payload.Embeds[0]
	if embed.Color != 13500529 {
		t.Errorf("unexpected color %d", embed.Color)
	}
	if embed.Title != "Some One" || embed.URL != "https://www.instagram.com/p/ABC123/" {
		t.Errorf("unexpected title/url %q %q", embed.Title, embed.URL)
	}
	if embed.Timestamp != "2026-01-31T12:00:00Z" {
		t.Errorf("unexpected timestamp %q", embed.Timestamp)
	}
	if !strings.Contains(embed.Description, "[#beach](https://www.instagram.com/explore/tags/beach)") ||
		!strings.Contains(embed.Description, "[@friend](https://www.instagram.com/friend)") {
		t.Errorf("caption not linkified: %q", embed.Description)
	}
	if embed.Image == nil || embed.Image.URL != "attachment://post_image.webp" {
		t.Errorf("unexpected image %+v", embed.Image)
	}
	if embed.Author == nil || embed.Author.IconURL != "attachment://profile_pic.webp" || embed.Author.Name != "someone" {
		t.Errorf("unexpected author %+v", embed.Author)
	}
	if embed.Footer == nil || embed.Footer.Text != "Instagram" {
		t.Errorf("unexpected footer %+v", embed.Footer)
	}
	if len(req.payload.Attachments) != 2 {
		t.Errorf("expected 2 attachment entries, got %+v", req.payload.Attachments)
	}
}

func TestSendClampsToDiscordLimits(t *testing.T) {
	tests := []struct {
		name    string
		noEmbed bool
	}{
		{"without embed", true},
		{"with embed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, srv := newFakeDiscord(t)
			n := newNotifier(srv, "{post_caption}", tt.noEmbed)
			item := testItem(srv.URL)
			item.Caption = strings.Repeat("é #tag ", 700)

			if err := n.Send(context.Background(), item); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			payload := fd.requests[0].payload
			if got := utf8.RuneCountInString(payload.Content); got != maxContentLength {
				t.Errorf("content has %d characters, want %d", got, maxContentLength)
			}
			if !utf8.ValidString(payload.Content) || !strings.HasSuffix(payload.Content, "...") {
				t.Errorf("content not cut cleanly: %q", payload.Content[len(payload.Content)-10:])
			}
			if tt.noEmbed {
				return
			}
			desc := payload.Embeds[0].Description
			if got := utf8.RuneCountInString(desc); got != maxDescriptionLength {
				t.Errorf("description has %d characters, want %d", got, maxDescriptionLength)
			}
		})
	}
}

func TestRenderMessageKeepsShortContent(t *testing.T) {
	item := testItem("https://cdn.example.com")
	if got := RenderMessage("{post_shortcode}", item); got != "ABC123" {
		t.Errorf("RenderMessage() = %q", got)
	}
}

func TestSendEmbedFallsBackToRemoteImages(t *testing.T) {
	fd, srv := newFakeDiscord(t)
	n := newNotifier(srv, "", false)
	item := testItem(srv.URL)
	item.URL = srv.URL + "/media/missing.jpg"
	item.OwnerProfilePicURL = srv.URL + "/media/missing.jpg"

	if err := n.Send(context.Background(), item); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	req := fd.requests[0]
	if req.contentType != "application/json" {
		t.Fatalf("expected plain JSON request, got %s", req.contentType)
	}
	embed := req.payload.Embeds[0]
	if embed.Image.URL != item.URL || embed.Author.IconURL != item.OwnerProfilePicURL {
		t.Fatalf("expected remote urls, got image %q icon %q", embed.Image.URL, embed.Author.IconURL)
	}
}

func TestSendReturnsWebhookError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     http.Header
		body       string
		retryAfter time.Duration
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"message": "Unknown Webhook"}`},
		{name: "rate limited header", status: http.StatusTooManyRequests, header: http.Header{"Retry-After": {"2"}}, retryAfter: 2 * time.Second},
		{name: "rate limited body", status: http.StatusTooManyRequests, body: `{"retry_after": 1.5}`, retryAfter: 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, srv := newFakeDiscord(t)
			fd.status, fd.header, fd.body = tt.status, tt.header, tt.body
			n := newNotifier(srv, "hello", true)

			err := n.Send(context.Background(), testItem(srv.URL))
			var werr *WebhookError
			if !errors.As(err, &werr) {
				t.Fatalf("expected WebhookError, got %v", err)
			}
			if werr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", werr.StatusCode, tt.status)
			}
			if werr.RetryAfter != tt.retryAfter {
				t.Errorf("retry after = %s, want %s", werr.RetryAfter, tt.retryAfter)
			}
		})
	}
}

func TestSystemNotifier(t *testing.T) {
	var calls []string
	orig := notify
	notify = func(title, message string) error {
		calls = append(calls, title+": "+message)
		return nil
	}
	t.Cleanup(func() { notify = orig })

	NewSystemNotifier(false).AlertFatal("off", "ignored")
	NewSystemNotifier(true).AlertFatal("InstaWebhooks", "login required")

	if len(calls) != 1 || calls[0] != "InstaWebhooks: login required" {
		t.Fatalf("unexpected calls %v", calls)
	}
}
