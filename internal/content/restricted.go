package content

import "strings"

// restrictedPrefixes lists URL schemes the host will never allow scripts
// into: browser-internal pages, local files, extension pages, devtools.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-untrusted://",
	"edge://",
	"brave://",
	"opera://",
	"vivaldi://",
	"about:",
	"file://",
	"view-source:",
	"devtools://",
}

// IsRestrictedURL reports whether the URL belongs to the non-extractable
// denylist. An empty URL is restricted: there is nothing to extract.
func IsRestrictedURL(url string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(url))
	if trimmed == "" {
		return true
	}
	for _, prefix := range restrictedPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
