package utils

import (
	"net/url"
	"path"
	"strings"
)

func GetFileNameFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// SetQSValue returns urlStr with key set in its query string.
func SetQSValue(urlStr, key, value string) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	values := u.Query()
	values.Set(key, value)
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// RedactWebhookURL hides the token part of a Discord webhook URL so it can
// be logged or printed.
func RedactWebhookURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "<invalid url>"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "webhooks" {
		parts[3] = "****"
	}
	// Built by hand: url.URL.String would escape the mask to %2A.
	return u.Scheme + "://" + u.Host + "/" + strings.Join(parts, "/")
}
