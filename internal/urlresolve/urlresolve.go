// Package urlresolve maps media URLs between the same-origin proxy form the
// editor previews with and the origin form the render executor fetches.
package urlresolve

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// ProxyPath is the path of the media proxy endpoint
const ProxyPath = "/api/video-proxy"

const proxyPrefix = ProxyPath + "?"

// Direction selects which way RewriteOverlayURLs maps URLs
type Direction int

// Direction constants
const (
	ToOrigin Direction = iota
	ToProxy
)

func (d Direction) String() string {
	if d == ToProxy {
		return "to_proxy"
	}
	return "to_origin"
}

// IsProxyURL reports whether u points at the media proxy, either relative or
// absolute on some http(s) host. Only the path counts, so a proxy path that
// appears inside another URL's query does not match.
func IsProxyURL(u string) bool {
	_, ok := parseProxyURL(u)
	return ok
}

func parseProxyURL(u string) (*url.URL, bool) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, false
	}
	if parsed.Path != ProxyPath || (parsed.RawQuery == "" && !parsed.ForceQuery) {
		return nil, false
	}
	if parsed.Scheme == "" {
		return parsed, parsed.Host == ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	return parsed, (scheme == "http" || scheme == "https") && parsed.Host != ""
}

// ToOriginURL unwraps a proxy URL to the URL it proxies. Anything else,
// including a proxy URL with a malformed query, is returned unchanged.
func ToOriginURL(u string) string {
	parsed, ok := parseProxyURL(u)
	if !ok {
		return u
	}

	query, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		log.Warn().Err(err).Str("url", u).Msg("Failed to parse proxy query, using it as-is")
		return u
	}

	origin := query.Get("url")
	if origin == "" {
		log.Warn().Str("url", u).Msg("Proxy URL has no url parameter, using it as-is")
		return u
	}
	return origin
}

// ToProxyURL wraps an absolute http(s) URL in the proxy path. Relative paths,
// data URLs and URLs that are already proxied are returned unchanged.
func ToProxyURL(u string) string {
	if IsProxyURL(u) || !IsRemoteURL(u) {
		return u
	}
	return proxyPrefix + "url=" + url.QueryEscape(u)
}

// IsRemoteURL reports whether u is an absolute http or https URL
func IsRemoteURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// RewriteOverlayURLs returns a copy of overlays with every URL-bearing field
// mapped in the given direction. The input is never modified.
func RewriteOverlayURLs(overlays []models.Overlay, direction Direction) []models.Overlay {
	mapURL := ToOriginURL
	if direction == ToProxy {
		mapURL = ToProxyURL
	}

	out := models.CloneOverlays(overlays)
	for i := range out {
		o := &out[i]
		o.Src = mapURL(o.Src)
		o.File = mapURL(o.File)
		// Text overlays carry their text in Content; only URLs are mapped.
		if o.Type != models.OverlayTypeText {
			o.Content = mapURL(o.Content)
		}
		o.Styles.BackgroundImage = rewriteCSSURL(o.Styles.BackgroundImage, mapURL)
	}
	return out
}

// rewriteCSSURL maps a raw URL or every url(...) reference in a CSS value
func rewriteCSSURL(value string, mapURL func(string) string) string {
	if value == "" {
		return value
	}
	if !strings.Contains(value, "url(") {
		return mapURL(value)
	}

	var b strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "url(")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], ")")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		inner := strings.TrimSpace(rest[start+len("url(") : end])
		quote := ""
		if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
			quote = inner[:1]
			inner = inner[1 : len(inner)-1]
		}

		b.WriteString(rest[:start])
		b.WriteString("url(")
		b.WriteString(quote)
		b.WriteString(mapURL(inner))
		b.WriteString(quote)
		b.WriteString(")")
		rest = rest[end+1:]
	}
	return b.String()
}
