package settings

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

var (
	reScriptStyle = regexp.MustCompile(`(?is)<script[^>]*?>.*?</script>|<style[^>]*?>.*?</style>`)
	reTag         = regexp.MustCompile(`(?s)<[^>]*>`)

	// A '<' that never closes before the next '<' or the end of input.
	reLoneLT = regexp.MustCompile(`<[^<>]*(?:<|$)`)

	reSpaceRun   = regexp.MustCompile(`[\r\n\t ]+`)
	reOctet      = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
)

// SanitizeText reduces untrusted form input to a single line of plain text:
// invalid UTF-8 yields "", a lone '<' is entity-encoded and tags are
// stripped along with script and style bodies. A stray '>' is encoded,
// whitespace runs collapse to one space, percent-encoded octets are removed
// and the result is trimmed.
func SanitizeText(s string) string {
	if !utf8.ValidString(s) {
		return ""
	}
	if strings.Contains(s, "<") {
		s = encodeLoneLT(s)
		s = reScriptStyle.ReplaceAllString(s, "")
		s = reTag.ReplaceAllString(s, "")
	}
	// Whatever survives stripping is text; a stray '>' must not read as markup.
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = reSpaceRun.ReplaceAllString(s, " ")

	found := false
	for reOctet.MatchString(s) {
		s = reOctet.ReplaceAllString(s, "")
		found = true
	}
	if found {
		s = reMultiSpace.ReplaceAllString(s, " ")
	}
	return strings.TrimSpace(s)
}

func encodeLoneLT(s string) string {
	var b strings.Builder
	for len(s) > 0 {
		loc := reLoneLT.FindStringIndex(s)
		if loc == nil {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:loc[0]])
		m := s[loc[0]:loc[1]]
		rest := s[loc[1]:]
		if strings.HasSuffix(m, "<") {
			// Hand the trailing '<' back; it starts the next candidate.
			m = m[:len(m)-1]
			rest = "<" + rest
		}
		b.WriteString(html.EscapeString(m))
		s = rest
	}
	return b.String()
}

// ValidLink reports whether a non-empty link is an absolute http(s) URL.
func ValidLink(link string) bool {
	if link == "" {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// NormalizeDelay turns sanitized input into an integer string. When clamp is
// set the value is forced into [MinDelayMinutes, MaxDelayMinutes].
func NormalizeDelay(s string, clamp bool) string {
	n := ParseDelay(s)
	if clamp {
		n = lo.Clamp(n, MinDelayMinutes, MaxDelayMinutes)
	}
	return strconv.Itoa(n)
}
