package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agnosto/instawebhooks/logger"
)

const (
	DefaultBaseURL = "https://i.instagram.com"
	feedPageSize   = 12
)

// HeaderProvider stamps identity headers onto outgoing requests.
type HeaderProvider interface {
	AddHeadersToRequest(req *http.Request, mobile bool)
}

type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// InstagramClient reads profiles and their post feeds from the mobile API.
type InstagramClient struct {
	baseURL    string
	headers    HeaderProvider
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewInstagramClient(headers HeaderProvider, opts ClientOptions) *InstagramClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	// Login walls are served as redirects; they must surface, not be followed.
	client := *httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(3*time.Second), 2)
	}
	return &InstagramClient{
		baseURL:    baseURL,
		headers:    headers,
		httpClient: &client,
		limiter:    limiter,
	}
}

type profileResponse struct {
	Data struct {
		User *struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			FullName      string `json:"full_name"`
			ProfilePicURL string `json:"profile_pic_url"`
			IsPrivate     bool   `json:"is_private"`
			Timeline      struct {
				Count int `json:"count"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
	Status string `json:"status"`
}

type imageVersions struct {
	Candidates []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"candidates"`
}

type feedCaption struct {
	Text string `json:"text"`
}

type feedUser struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
}

type carouselMedia struct {
	ImageVersions2 imageVersions `json:"image_versions2"`
}

type feedItem struct {
	Code                  string          `json:"code"`
	TakenAt               int64           `json:"taken_at"`
	MediaType             int             `json:"media_type"`
	ProductType           string          `json:"product_type"`
	Caption               *feedCaption    `json:"caption"`
	ImageVersions2        imageVersions   `json:"image_versions2"`
	CarouselMedia         []carouselMedia `json:"carousel_media"`
	TimelinePinnedUserIDs []int64         `json:"timeline_pinned_user_ids"`
	User                  feedUser        `json:"user"`
}

type feedResponse struct {
	Items         []feedItem `json:"items"`
	MoreAvailable bool       `json:"more_available"`
	NextMaxID     string     `json:"next_max_id"`
	Status        string     `json:"status"`
	Message       string     `json:"message"`
}

func (c *InstagramClient) GetProfile(ctx context.Context, username string) (*Profile, error) {
	q := url.Values{}
	q.Set("username", username)

	var resp profileResponse
	if err := c.getJSON(ctx, "/api/v1/users/web_profile_info/?"+q.Encode(), &resp); err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) && connErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, username)
		}
		return nil, err
	}
	if resp.Data.User == nil || resp.Data.User.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, username)
	}

	user := resp.Data.User
	profile := &Profile{
		ID:            user.ID,
		Username:      user.Username,
		FullName:      user.FullName,
		ProfilePicURL: user.ProfilePicURL,
		PostCount:     user.Timeline.Count,
		IsPrivate:     user.IsPrivate,
	}
	profile.posts = func() Cursor {
		return &feedCursor{client: c, profile: profile, more: true}
	}
	return profile, nil
}

func (c *InstagramClient) getFeedPage(ctx context.Context, userID, maxID string) (feedResponse, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(feedPageSize))
	if maxID != "" {
		q.Set("max_id", maxID)
	}

	var resp feedResponse
	err := c.getJSON(ctx, fmt.Sprintf("/api/v1/feed/user/%s/?%s", url.PathEscape(userID), q.Encode()), &resp)
	return resp, err
}

func (c *InstagramClient) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.headers != nil {
		c.headers.AddHeadersToRequest(req, true)
	}

	logger.Debugf("GET %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Op: "GET " + path, StatusCode: resp.StatusCode, Err: err}
	}

	if isLoginWall(resp, body) {
		return ErrLoginRequired
	}

	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{Op: "GET " + path, StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ConnectionError{Op: "GET " + path, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func isLoginWall(resp *http.Response, body []byte) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther, http.StatusTemporaryRedirect:
		location := resp.Header.Get("Location")
		return strings.Contains(location, "/accounts/login") || strings.Contains(location, "/challenge")
	}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch payload.Message {
		case "login_required", "checkpoint_required", "challenge_required":
			return true
		}
	}
	return false
}

// feedCursor pages through a profile feed on demand.
type feedCursor struct {
	client  *InstagramClient
	profile *Profile
	buf     []feedItem
	maxID   string
	more    bool
}

func (fc *feedCursor) Next(ctx context.Context) (FeedItem, error) {
	for len(fc.buf) == 0 {
		if !fc.more {
			return FeedItem{}, ErrEndOfFeed
		}
		page, err := fc.client.getFeedPage(ctx, fc.profile.ID, fc.maxID)
		if err != nil {
			return FeedItem{}, err
		}
		fc.buf = page.Items
		fc.maxID = page.NextMaxID
		fc.more = page.MoreAvailable && page.NextMaxID != ""
		if len(page.Items) == 0 {
			fc.more = false
		}
	}

	raw := fc.buf[0]
	fc.buf = fc.buf[1:]
	return fc.convert(raw), nil
}

func (fc *feedCursor) convert(raw feedItem) FeedItem {
	item := FeedItem{
		Shortcode:          raw.Code,
		Date:               time.Unix(raw.TakenAt, 0).UTC(),
		IsPinned:           len(raw.TimelinePinnedUserIDs) > 0,
		Typename:           typenameFor(raw.MediaType, raw.ProductType),
		IsVideo:            raw.MediaType == 2,
		URL:                bestImage(raw.ImageVersions2),
		OwnerUsername:      raw.User.Username,
		OwnerFullName:      raw.User.FullName,
		OwnerProfilePicURL: raw.User.ProfilePicURL,
	}
	if raw.Caption != nil {
		item.Caption = raw.Caption.Text
	}
	if item.URL == "" && len(raw.CarouselMedia) > 0 {
		item.URL = bestImage(raw.CarouselMedia[0].ImageVersions2)
	}
	if item.OwnerUsername == "" {
		item.OwnerUsername = fc.profile.Username
	}
	if item.OwnerFullName == "" {
		item.OwnerFullName = fc.profile.FullName
	}
	if item.OwnerProfilePicURL == "" {
		item.OwnerProfilePicURL = fc.profile.ProfilePicURL
	}
	return item
}

func typenameFor(mediaType int, productType string) string {
	switch {
	case productType == "clips":
		return "GraphClip"
	case mediaType == 8:
		return "GraphSidecar"
	case mediaType == 2:
		return "GraphVideo"
	default:
		return "GraphImage"
	}
}

func bestImage(versions imageVersions) string {
	best := ""
	bestArea := -1
	for _, c := range versions.Candidates {
		if area := c.Width * c.Height; area > bestArea {
			best = c.URL
			bestArea = area
		}
	}
	return best
}
