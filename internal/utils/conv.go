package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// StringToInt converts string to int, returns 0 if error
func StringToInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

var urlKeyStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// URLKey derives a url-safe slug from a title, the key issues and
// projects are addressed by.
func URLKey(title string) string {
	key := strings.ToLower(strings.TrimSpace(title))
	key = strings.ReplaceAll(key, " ", "-")
	key = urlKeyStrip.ReplaceAllString(key, "")
	key = strings.Trim(key, "-")
	if len(key) > 64 {
		key = key[:64]
	}
	return key
}
