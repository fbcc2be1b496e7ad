package rank

import (
	"net/url"
	"strings"
)

// NormalizeDomain reduces a site URL to its canonical host: scheme dropped,
// leading "www." stripped, lower-cased. Unparsable input yields "", which
// matches nothing.
func NormalizeDomain(siteURL string) string {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		// Bare "example.com" parses with an empty host; retry as a URL.
		u, err = url.Parse("https://" + strings.TrimSpace(siteURL))
		if err != nil {
			return ""
		}
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return host
}

// HostMatches reports whether the result link belongs to the canonical
// domain: its host must equal the domain or be a subdomain of it. Malformed
// links never match.
func HostMatches(link, domain string) bool {
	if domain == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == domain || strings.HasSuffix(host, "."+domain)
}
