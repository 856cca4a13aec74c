package app

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	markdown  = goldmark.New()
	ugcPolicy = bluemonday.UGCPolicy()
	stripAll  = bluemonday.StrictPolicy()
)

// renderMarkup converts user markdown to sanitised HTML. Raw HTML in the source
// is dropped by the renderer and the output is filtered again before storage.
func renderMarkup(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimSpace(ugcPolicy.Sanitize(buf.String())), nil
}

// visibleText reports the text a reader would see once tags are stripped.
func visibleText(rendered string) string {
	return strings.TrimSpace(html.UnescapeString(stripAll.Sanitize(rendered)))
}

// renderRequired renders src and fails with a field error when nothing visible
// remains.
func renderRequired(field, src string) (string, *ValidationError, error) {
	out, err := renderMarkup(src)
	if err != nil {
		return "", nil, err
	}
	if visibleText(out) == "" {
		return "", fieldError(field, "is required"), nil
	}
	return out, nil, nil
}
