package assistant

import (
	"fmt"
	"html"
	"regexp"
)

// Markup selects how replies are rendered for the transport.
type Markup string

const (
	// MarkupPlain returns the model's text unchanged.
	MarkupPlain Markup = "plain"

	// MarkupHTML escapes the text and converts **bold** and *italic* to tags.
	MarkupHTML Markup = "html"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^*\n]+?)\*`)
)

// ParseMarkup validates a markup name. Empty means plain.
func ParseMarkup(s string) (Markup, error) {
	switch Markup(s) {
	case "", MarkupPlain:
		return MarkupPlain, nil
	case MarkupHTML:
		return MarkupHTML, nil
	default:
		return "", fmt.Errorf("unknown reply markup %q", s)
	}
}

// Render converts text for the given markup.
func Render(m Markup, text string) string {
	if m != MarkupHTML {
		return text
	}

	out := html.EscapeString(text)
	out = boldPattern.ReplaceAllString(out, "<b>$1</b>")
	out = italicPattern.ReplaceAllString(out, "<i>$1</i>")
	return out
}
