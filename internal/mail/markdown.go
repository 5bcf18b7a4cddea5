package mail

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderMarkdown converts a markdown body to a complete HTML document ready
// for marker injection.
func RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return "<html><body>\n" + buf.String() + "</body></html>\n", nil
}

// EnsureHTML wraps a plain body in a minimal HTML document unless it already
// looks like one, so the marker always lands inside a body element.
func EnsureHTML(body string) string {
	if strings.Contains(strings.ToLower(body), "<body") {
		return body
	}
	return "<html><body>\n" + body + "\n</body></html>\n"
}
