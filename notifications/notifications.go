package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnosto/instawebhooks/logger"
	"github.com/agnosto/instawebhooks/posts"
	"github.com/agnosto/instawebhooks/utils"
)

const (
	embedColor     = 13500529
	footerText     = "Instagram"
	footerIconURL  = "https://www.instagram.com/static/images/ico/favicon-192.png/68d99ba29cc8.png"
	postImageName  = "post_image.webp"
	profilePicName = "profile_pic.webp"

	maxErrorBody = 4 << 10

	// Discord rejects messages over these limits, counted in characters.
	maxContentLength     = 2000
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	maxAuthorNameLength  = 256
)

// WebhookError is a non-2xx response from the webhook endpoint.
type WebhookError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *WebhookError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("discord webhook returned status %d (retry after %s)", e.StatusCode, e.RetryAfter)
	}
	if e.Body != "" {
		return fmt.Sprintf("discord webhook returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("discord webhook returned status %d", e.StatusCode)
}

type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
}

type Attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type WebhookPayload struct {
	Content     string       `json:"content,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type DiscordOptions struct {
	WebhookURL     string
	MessageContent string
	NoEmbed        bool
	HTTPClient     *http.Client
	Logger         *log.Logger
}

// DiscordNotifier posts feed items to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	template   string
	noEmbed    bool
	client     *http.Client
	logger     *log.Logger
}

func NewDiscordNotifier(opts DiscordOptions) *DiscordNotifier {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = logger.Logger
	}
	return &DiscordNotifier{
		webhookURL: opts.WebhookURL,
		template:   opts.MessageContent,
		noEmbed:    opts.NoEmbed,
		client:     client,
		logger:     l,
	}
}

// RenderMessage substitutes the post placeholders in template.
func RenderMessage(template string, item posts.FeedItem) string {
	if template == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{post_url}", item.PostURL(),
		"{owner_url}", item.OwnerURL(),
		"{owner_name}", item.OwnerFullName,
		"{owner_username}", item.OwnerUsername,
		"{post_caption}", item.Caption,
		"{post_shortcode}", item.Shortcode,
		"{post_image_url}", item.URL,
	)
	return truncate(r.Replace(template), maxContentLength)
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

// BuildEmbed builds the post embed. imageURL and iconURL are either remote
// URLs or attachment:// references.
func BuildEmbed(item posts.FeedItem, imageURL, iconURL string) Embed {
	embed := Embed{
		Title:       truncate(item.OwnerFullName, maxTitleLength),
		Description: truncate(utils.LinkifyCaption(item.Caption), maxDescriptionLength),
		URL:         item.PostURL(),
		Color:       embedColor,
		Author: &EmbedAuthor{
			Name:    truncate(item.OwnerUsername, maxAuthorNameLength),
			URL:     item.OwnerURL(),
			IconURL: iconURL,
		},
		Footer: &EmbedFooter{Text: footerText, IconURL: footerIconURL},
	}
	if !item.Date.IsZero() {
		embed.Timestamp = item.Date.UTC().Format(time.RFC3339)
	}
	if imageURL != "" {
		embed.Image = &EmbedImage{URL: imageURL}
	}
	return embed
}

type upload struct {
	name string
	data []byte
}

// Send delivers item. A nil error means Discord accepted the message.
func (n *DiscordNotifier) Send(ctx context.Context, item posts.FeedItem) error {
	payload := WebhookPayload{Content: RenderMessage(n.template, item)}

	if n.noEmbed {
		if payload.Content == "" {
			return fmt.Errorf("cannot send an empty message for post %s", item.Shortcode)
		}
		logger.Debugf("Sending post %s to Discord without embed", item.Shortcode)
		return n.postJSON(ctx, payload)
	}

	logger.Debugf("Creating embed for post %s", item.Shortcode)
	var files []upload
	imageURL := n.attach(ctx, item.URL, postImageName, &files)
	iconURL := n.attach(ctx, item.OwnerProfilePicURL, profilePicName, &files)
	payload.Embeds = []Embed{BuildEmbed(item, imageURL, iconURL)}

	if len(files) == 0 {
		return n.postJSON(ctx, payload)
	}
	for i, f := range files {
		payload.Attachments = append(payload.Attachments, Attachment{ID: i, Filename: f.name})
	}
	return n.postMultipart(ctx, payload, files)
}

// attach downloads src for upload as name and returns the URL the embed
// should reference. On failure the remote URL is used instead.
func (n *DiscordNotifier) attach(ctx context.Context, src, name string, files *[]upload) string {
	if src == "" {
		return ""
	}
	data, err := n.download(ctx, src)
	if err != nil {
		n.logger.Printf("[WARN] Failed to download %s, linking remote image instead: %v", utils.GetFileNameFromURL(src), err)
		return src
	}
	*files = append(*files, upload{name: name, data: data})
	return "attachment://" + name
}

func (n *DiscordNotifier) download(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (n *DiscordNotifier) postJSON(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}
	return n.post(ctx, "application/json", bytes.NewReader(body))
}

func (n *DiscordNotifier) postMultipart(ctx context.Context, payload WebhookPayload, files []upload) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}
	if err := writer.WriteField("payload_json", string(jsonPayload)); err != nil {
		return err
	}
	for i, f := range files {
		part, err := writer.CreateFormFile(fmt.Sprintf("files[%d]", i), f.name)
		if err != nil {
			return err
		}
		if _, err := part.Write(f.data); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return n.post(ctx, writer.FormDataContentType(), body)
}

func (n *DiscordNotifier) post(ctx context.Context, contentType string, body io.Reader) error {
	target, err := utils.SetQSValue(n.webhookURL, "wait", "true")
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	werr := &WebhookError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	if resp.StatusCode == http.StatusTooManyRequests {
		werr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), raw)
	}
	return werr
}

func retryAfter(header string, body []byte) time.Duration {
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	return 0
}
