// Package note builds vault file names and Markdown notes from clips.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Extension is appended to every note file name.
const Extension = ".md"

const untitled = "Untitled"

var (
	invalidChars = regexp.MustCompile(`[/\\:*?"<>|]`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// Source makes a file name unique. Two clips with equal titles get
// distinct names as long as their sources differ.
type Source struct {
	URL string
	At  time.Time
}

// Sanitize turns a page title into a filesystem-safe string.
// Invalid characters become hyphens, hyphen runs collapse to one, and
// leading/trailing hyphens and whitespace are trimmed. An empty result
// becomes "Untitled".
func Sanitize(title string) string {
	s := invalidChars.ReplaceAllString(title, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	for {
		trimmed := strings.Trim(strings.TrimSpace(s), "-")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if s == "" {
		return untitled
	}
	return s
}

// ShortHash returns a 6-character hex digest of url and at.
func ShortHash(url string, at time.Time) string {
	h := sha256.Sum256([]byte(url + "|" + strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(h[:3])
}

// BuildFilename returns "<sanitized title>_<hash>.md".
func BuildFilename(title string, src Source) string {
	return Sanitize(title) + "_" + ShortHash(src.URL, src.At) + Extension
}
