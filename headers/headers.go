package headers

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

	DefaultIPhoneUserAgent = "Instagram 361.0.0.35.82 (iPad13,8; iOS 18_0; en_US; en-US; " +
		"scale=2.00; 2048x2732; 674117118) AppleWebKit/420+"

	instagramAppID = "124024574287414"
	webAppID       = "936619743392459"
)

// InstagramHeaders builds the identification headers sent with every feed
// request. The zero value uses the built-in user agents.
type InstagramHeaders struct {
	UserAgent       string
	IPhoneUserAgent string
	SessionID       string

	// Now and Intn are swapped out in tests.
	Now  func() time.Time
	Intn func(n int) int
}

func NewInstagramHeaders(userAgent, sessionID string) *InstagramHeaders {
	return &InstagramHeaders{
		UserAgent: userAgent,
		SessionID: sessionID,
	}
}

func (h *InstagramHeaders) GetBasicHeaders() map[string]string {
	ua := h.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Origin":          "https://www.instagram.com",
		"Referer":         "https://www.instagram.com/",
		"User-Agent":      ua,
		"X-IG-App-ID":     webAppID,
	}
}

func (h *InstagramHeaders) GetIPhoneHeaders() map[string]string {
	ua := h.IPhoneUserAgent
	if ua == "" {
		ua = DefaultIPhoneUserAgent
	}
	return map[string]string{
		"User-Agent":                     ua,
		"x-ads-opt-out":                  "1",
		"x-bloks-is-panorama-enabled":    "true",
		"x-bloks-version-id":             "16b7bd25c6c06886d57c4d455265669345a2d96625385b8ee30026ac2dc5ed97",
		"x-fb-client-ip":                 "True",
		"x-fb-connection-type":           "wifi",
		"x-fb-http-engine":               "Liger",
		"x-fb-server-cluster":            "True",
		"x-fb":                           "1",
		"x-ig-abr-connection-speed-kbps": "2",
		"x-ig-app-id":                    instagramAppID,
		"x-ig-app-locale":                "en-US",
		"x-ig-app-startup-country":       "US",
		"x-ig-bandwidth-speed-kbps":      "0.000",
		"x-ig-capabilities":              "36r/F/8=",
		"x-ig-connection-speed":          fmt.Sprintf("%dkbps", 1000+h.intn(19001)),
		"x-ig-connection-type":           "WiFi",
		"x-ig-device-locale":             "en-US",
		"x-ig-mapped-locale":             "en-US",
		"x-ig-timezone-offset":           strconv.Itoa(h.timezoneOffset()),
		"x-ig-www-claim":                 "0",
		"x-pigeon-session-id":            uuid.NewString(),
		"x-tigon-is-retry":               "False",
		"x-whatsapp":                     "0",
	}
}

// AddHeadersToRequest sets either the browser or the mobile app identity on
// req, plus the session cookie when one is configured.
func (h *InstagramHeaders) AddHeadersToRequest(req *http.Request, mobile bool) {
	var headers map[string]string
	if mobile {
		headers = h.GetIPhoneHeaders()
	} else {
		headers = h.GetBasicHeaders()
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if h.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: h.SessionID})
	}
}

// timezoneOffset is the local UTC offset in seconds, never negative, matching
// what the app reports.
func (h *InstagramHeaders) timezoneOffset() int {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	_, offset := now().Zone()
	if offset < 0 {
		offset += 24 * 60 * 60
	}
	return offset
}

func (h *InstagramHeaders) intn(n int) int {
	if h.Intn != nil {
		return h.Intn(n)
	}
	return rand.Intn(n)
}
