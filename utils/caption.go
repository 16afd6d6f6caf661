package utils

import "regexp"

var (
	hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9]+\b)`)
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_]+\b)`)
)

// LinkifyCaption turns hashtags and mentions into markdown links.
func LinkifyCaption(caption string) string {
	caption = hashtagPattern.ReplaceAllString(caption, "[#${1}](https://www.instagram.com/explore/tags/${1})")
	return mentionPattern.ReplaceAllString(caption, "[@${1}](https://www.instagram.com/${1})")
}
