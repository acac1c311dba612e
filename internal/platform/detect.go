// Package platform recognises supported content URLs and extracts the
// platform native resource id from them.
package platform

import (
	"net/url"
	"regexp"
	"strings"

	"analysis-pipeline/internal/entity"
)

type pattern struct {
	platform entity.Platform
	hosts    []string
	path     *regexp.Regexp
	query    string
}

var patterns = []pattern{
	{
		platform: entity.PlatformInstagram,
		hosts:    []string{"instagram.com"},
		path:     regexp.MustCompile(`^/(?:[A-Za-z0-9_.]+/)?(?:p|reel|reels|tv)/([A-Za-z0-9_-]+)/?$`),
	},
	{
		platform: entity.PlatformTikTok,
		hosts:    []string{"tiktok.com"},
		path:     regexp.MustCompile(`^/@[A-Za-z0-9_.]+/(?:video|photo)/(\d+)/?$`),
	},
	{
		platform: entity.PlatformYouTube,
		hosts:    []string{"youtube.com"},
		path:     regexp.MustCompile(`^/(?:shorts|live|embed)/([A-Za-z0-9_-]{6,})/?$`),
	},
	{
		platform: entity.PlatformYouTube,
		hosts:    []string{"youtube.com"},
		path:     regexp.MustCompile(`^/watch/?$`),
		query:    "v",
	},
	{
		platform: entity.PlatformYouTube,
		hosts:    []string{"youtu.be"},
		path:     regexp.MustCompile(`^/([A-Za-z0-9_-]{6,})/?$`),
	},
	{
		platform: entity.PlatformTwitter,
		hosts:    []string{"twitter.com", "x.com"},
		path:     regexp.MustCompile(`^/[A-Za-z0-9_]+/status(?:es)?/(\d+)/?$`),
	},
}

// Detect returns the platform and native id of raw, or ok=false when the URL
// does not match any supported resource pattern.
func Detect(raw string) (entity.Platform, string, bool) {
	u, host, ok := parse(raw)
	if !ok {
		return "", "", false
	}
	for _, p := range patterns {
		if !hostMatches(host, p.hosts) {
			continue
		}
		m := p.path.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}
		if p.query != "" {
			id := strings.TrimSpace(u.Query().Get(p.query))
			if id == "" {
				continue
			}
			return p.platform, id, true
		}
		return p.platform, m[1], true
	}
	return "", "", false
}

// MatchesDomain reports whether raw is hosted on one of the platform's domains.
func MatchesDomain(raw string, platform entity.Platform) bool {
	_, host, ok := parse(raw)
	if !ok {
		return false
	}
	for _, p := range patterns {
		if p.platform == platform && hostMatches(host, p.hosts) {
			return true
		}
	}
	return false
}

// Supported reports whether platform is known.
func Supported(platform entity.Platform) bool {
	for _, p := range patterns {
		if p.platform == platform {
			return true
		}
	}
	return false
}

func parse(raw string) (*url.URL, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	if host == "" {
		return nil, "", false
	}
	return u, host, true
}

func hostMatches(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
