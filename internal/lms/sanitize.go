package lms

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLength = 120

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename strips characters that are invalid on common filesystems
// while preserving Unicode. Remote names arrive URL-encoded, so the name is
// decoded first. The result is capped at maxFilenameLength, keeping the
// extension when it is a sane length.
func SanitizeFilename(name string) string {
	if name == "" {
		return "untitled"
	}

	if decoded, err := url.QueryUnescape(strings.ReplaceAll(name, "+", " ")); err == nil {
		name = decoded
	}

	sanitized := invalidFilenameChars.ReplaceAllString(name, "")
	sanitized = strings.Trim(sanitized, ". _")

	if len(sanitized) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		if len(ext) > 10 {
			sanitized = sanitized[:maxFilenameLength]
		} else {
			base := strings.TrimSuffix(sanitized, ext)
			maxBase := maxFilenameLength - len(ext)
			sanitized = base[:maxBase] + ext
		}
	}

	if sanitized == "" {
		return "untitled"
	}
	return sanitized
}

// NormalizeName lowers, trims and URL-decodes a filename for case- and
// quoting-insensitive comparison across the remote source and the local
// filesystem.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(strings.ReplaceAll(name, "+", " ")); err == nil {
		name = decoded
	}
	return strings.ToLower(strings.TrimSpace(name))
}
