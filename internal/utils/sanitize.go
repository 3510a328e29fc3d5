package utils

import (
	"regexp"
	"strings"
)

var unsafePathChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeForFilename converts an arbitrary string (a directory path, a
// repository identifier) into a string safe to use as a filename
// component: slashes and other filesystem-hostile characters are
// replaced, leading/trailing dots and dashes are trimmed so the result
// never looks like a hidden file.
func SanitizeForFilename(s string) string {
	sanitized := strings.ReplaceAll(s, "/", "--")
	sanitized = strings.ReplaceAll(sanitized, "\\", "--")
	sanitized = strings.ReplaceAll(sanitized, ":", "--")
	sanitized = strings.ReplaceAll(sanitized, "*", "-star-")
	sanitized = strings.ReplaceAll(sanitized, "?", "-q-")
	sanitized = strings.ReplaceAll(sanitized, "\"", "-quote-")
	sanitized = strings.ReplaceAll(sanitized, "<", "-lt-")
	sanitized = strings.ReplaceAll(sanitized, ">", "-gt-")
	sanitized = strings.ReplaceAll(sanitized, "|", "-pipe-")

	sanitized = unsafePathChars.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, ".-")

	if sanitized == "" {
		sanitized = "default"
	}

	return sanitized
}
