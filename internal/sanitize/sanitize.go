// Package sanitize strips markup and dangerous characters from raw user
// text before any intent processing touches it.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	iframeRe = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)
	charsRe  = regexp.MustCompile(`[<>"';]`)
)

// Clean removes <script> and <iframe> blocks (case-insensitive,
// non-greedy), strips the literal characters < > " ' ; and trims
// surrounding whitespace. Empty input is returned unchanged. Clean is
// pure and idempotent.
func Clean(text string) string {
	if text == "" {
		return text
	}
	out := scriptRe.ReplaceAllString(text, "")
	out = iframeRe.ReplaceAllString(out, "")
	out = charsRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
