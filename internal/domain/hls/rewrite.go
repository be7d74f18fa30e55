package hls

import (
	"net/url"
	"regexp"
	"strings"
)

var uriAttribute = regexp.MustCompile(`URI="([^"]*)"`)

// RewriteManifest points every URL of an HLS playlist at the proxy. Non-comment lines are treated
// as URLs relative to manifestURL; comment lines only have their URI="..." attribute rewritten.
// Everything else is preserved verbatim.
func RewriteManifest(manifest, manifestURL, token, proxyBase string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", err
	}
	proxyBase = strings.TrimSuffix(proxyBase, "/")

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if !uriAttribute.MatchString(line) {
				continue
			}
			var rewriteErr error
			lines[i] = uriAttribute.ReplaceAllStringFunc(line, func(match string) string {
				ref := uriAttribute.FindStringSubmatch(match)[1]
				proxied, err := ProxyURL(base, ref, token, proxyBase)
				if err != nil {
					rewriteErr = err
					return match
				}
				return `URI="` + proxied + `"`
			})
			if rewriteErr != nil {
				return "", rewriteErr
			}
			continue
		}
		proxied, err := ProxyURL(base, trimmed, token, proxyBase)
		if err != nil {
			return "", err
		}
		lines[i] = proxied
	}
	return strings.Join(lines, "\n"), nil
}

// ProxyURL resolves ref against base and returns {proxyBase}/hlsProxy/{escaped-absolute}/{token}.
func ProxyURL(base *url.URL, ref, token, proxyBase string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	absolute := base.ResolveReference(parsed).String()
	return proxyBase + "/hlsProxy/" + encodeURIComponent(absolute) + "/" + token, nil
}

// componentUnescaper restores the characters a URI component leaves unescaped but QueryEscape
// does not.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes s as a single URI component, leaving A-Z a-z 0-9 - _ . ! ~ * ' ( )
// as they are. Proxy links issued by earlier deployments used this form, so cached players keep
// resolving to the same proxy path.
func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// AddTokenToURL appends a SAS-style query token to rawURL unless the URL already carries it or
// is already signed.
func AddTokenToURL(rawURL, token string) string {
	token = strings.TrimPrefix(token, "?")
	if token == "" || strings.Contains(rawURL, token) {
		return rawURL
	}
	if _, query, ok := strings.Cut(rawURL, "?"); ok {
		if strings.Contains(query, "se=") {
			return rawURL
		}
		return rawURL + "&" + token
	}
	return rawURL + "?" + token
}

// IsPlaylist reports whether a URL or content type designates an HLS playlist.
func IsPlaylist(rawURL, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	path := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		path = parsed.Path
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}
