package normalize

import (
	"net/url"
	"strings"
)

// MaxURLLength is the longest URL carried in an entry; longer ones are dropped.
const MaxURLLength = 2048

// WebURL reports whether s is an absolute http(s) URL with a host.
func WebURL(s string) bool {
	if s == "" || len(s) > MaxURLLength {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// resolveURL resolves ref against base and returns it only when the result is a web URL.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) > MaxURLLength {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if s := u.String(); WebURL(s) {
		return s
	}
	return ""
}
