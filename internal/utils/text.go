package utils

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// TruncateRunes shortens s to at most max runes, appending "..." when it cut something.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// ParseDataURL decodes a base64 "data:<mime>;base64,<payload>" URL.
func ParseDataURL(raw string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(raw, "data:") {
		return "", nil, fmt.Errorf("not a data url")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("data url has no payload")
	}
	mimeType, params, _ := strings.Cut(header, ";")
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if params != "base64" && !strings.HasSuffix(params, ";base64") {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("invalid data url payload: %w", err)
		}
		return mimeType, []byte(decoded), nil
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return mimeType, data, nil
}

// IsRemoteURL reports whether raw is an absolute http(s) URL.
func IsRemoteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
