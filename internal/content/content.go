// ABOUTME: Content processing utilities for feed items
// ABOUTME: Sanitizes HTML, converts it to Markdown for display and builds plain-text snippets

package content

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"
)

var (
	markdownPolicy = bluemonday.UGCPolicy()
	textPolicy     = bluemonday.StrictPolicy()
)

// htmlTagPattern matches common HTML tags
var htmlTagPattern = regexp.MustCompile(`<\s*(p|div|span|a|br|img|h[1-6]|ul|ol|li|table|tr|td|th|strong|em|b|i|code|pre|blockquote|figure|audio|video)[^>]*>`)

// IsHTML reports whether content looks like HTML rather than plain text.
func IsHTML(content string) bool {
	if strings.Contains(content, "<!DOCTYPE") || strings.Contains(content, "<html") {
		return true
	}
	return htmlTagPattern.MatchString(content)
}

// ToMarkdown sanitizes HTML and converts it to Markdown. Relative links and
// images resolve against base when it is non-empty. Plain text, and HTML the
// converter rejects, come back unchanged.
func ToMarkdown(content, base string) string {
	if content == "" || !IsHTML(content) {
		return content
	}

	var opts []converter.ConvertOptionFunc
	if base != "" {
		opts = append(opts, converter.WithDomain(base))
	}
	markdown, err := htmltomarkdown.ConvertString(markdownPolicy.Sanitize(content), opts...)
	if err != nil {
		return content
	}
	return strings.TrimSpace(markdown)
}

// Snippet returns at most n runes of content's text with markup stripped and
// whitespace collapsed. Truncated snippets end in an ellipsis.
func Snippet(content string, n int) string {
	text := content
	if IsHTML(text) {
		// Space before every tag keeps words split by <br> or </p> apart.
		text = html.UnescapeString(textPolicy.Sanitize(strings.ReplaceAll(text, "<", " <")))
	}
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
