package content

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// PreviewLength is the number of runes kept in notification previews.
const PreviewLength = 100

var (
	policy      = bluemonday.UGCPolicy()
	stripPolicy = bluemonday.StrictPolicy()
	markdown    = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// IsBlank reports whether s has no visible characters.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsEmpty reports whether a message body would render as nothing, either because it is
// blank or because it consists only of markup a renderer strips.
func IsEmpty(body string) bool {
	return IsBlank(body) || IsBlank(Sanitize(body))
}

// PlainText renders a markdown message body and strips all markup,
// leaving the text a notification can display.
func PlainText(body string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return strings.Join(strings.Fields(stripPolicy.Sanitize(body)), " ")
	}
	text := html.UnescapeString(stripPolicy.Sanitize(buf.String()))
	return strings.Join(strings.Fields(text), " ")
}

// Preview returns at most n runes of the plain text of body.
func Preview(body string, n int) string {
	text := PlainText(body)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}
