package domain

import (
	"net/url"
	"strings"
	"unicode"
)

// AssetIDFromURL derives the asset id from a page URL: the second-to-last
// path segment, e.g. https://host/watch/<id>/slug. Input that is not an
// absolute URL is returned trimmed, as an id.
func AssetIDFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if raw == "" {
			return "", ErrInvalidAssetID
		}
		return raw, nil
	}

	parts := strings.Split(u.Path, "/")
	if len(parts) < 3 {
		return "", NewDomainError(CodeInvalidAssetID, "URL path has no asset segment", nil, false)
	}
	id := parts[len(parts)-2]
	if id == "" {
		return "", NewDomainError(CodeInvalidAssetID, "URL path has no asset segment", nil, false)
	}
	return id, nil
}

const maxTitleRunes = 200

// SanitizeTitle turns a title into a safe file name stem.
func SanitizeTitle(title string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r) || unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	name := strings.Trim(b.String(), " .")
	if runes := []rune(name); len(runes) > maxTitleRunes {
		name = strings.TrimRight(string(runes[:maxTitleRunes]), " .")
	}
	return name
}
