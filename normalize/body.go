package normalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/dhcgn/msg-to-json/model"
)

var (
	blockBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6])>`)
	blankLines  = regexp.MustCompile(`\n[ \t\r]*\n([ \t\r]*\n)+`)
)

// Body prefers the HTML body over the plain text one. With StripTags set the
// markup is removed and entities are unescaped.
func (n *Normalizer) Body(msg model.Message) string {
	body := msg.HTMLBody
	isHTML := strings.TrimSpace(body) != ""
	if !isHTML {
		body = msg.Body
	}
	body = n.Text(body)

	if isHTML && n.policy.StripTags {
		body = n.StripTags(body)
	}
	return body
}

// StripTags removes all markup from s.
func (n *Normalizer) StripTags(s string) string {
	if s == "" {
		return s
	}
	s = blockBreaks.ReplaceAllString(s, "\n")
	text := html.UnescapeString(n.sanitizer.Sanitize(s))
	text = strings.NewReplacer("\r\n", "\n", "\u00a0", " ").Replace(text)
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
