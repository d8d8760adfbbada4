// Package extractor turns a URL into a clip: rendered, cleaned and converted
// to Markdown.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"clip_bot/internal/model"
)

// Handler extracts content for the URLs it recognises.
type Handler interface {
	CanHandle(url string) bool
	Handle(ctx context.Context, url string) (*model.ClipResult, error)
}

// Extractor tries its handlers in order and uses the first that accepts a URL.
type Extractor struct {
	handlers []Handler
}

// New creates an Extractor. Handlers are consulted in the order given, so the
// catch-all handler goes last.
func New(handlers ...Handler) *Extractor {
	return &Extractor{handlers: handlers}
}

// Extract produces a clip for url. Site-level failures such as HTTP error
// statuses come back as an error clip; a returned error means the extractor
// itself could not run.
func (e *Extractor) Extract(ctx context.Context, url string) (*model.ClipResult, error) {
	for _, h := range e.handlers {
		if h.CanHandle(url) {
			return h.Handle(ctx, url)
		}
	}
	return nil, fmt.Errorf("no handler for %s", url)
}

// statusClip records an HTTP error status returned by the site.
func statusClip(url string, status int) *model.ClipResult {
	return errorClip(url,
		fmt.Sprintf("- **Status**: %d", status),
		"- **Message**: The server returned an error response.",
	)
}

// failureClip records a navigation or parsing failure.
func failureClip(url string, err error) *model.ClipResult {
	return errorClip(url, "- **Error**: "+err.Error())
}

func errorClip(url string, details ...string) *model.ClipResult {
	var b strings.Builder
	b.WriteString("# Clip Error\n\n- **URL**: ")
	b.WriteString(url)
	b.WriteString("\n")
	for _, d := range details {
		b.WriteString(d)
		b.WriteString("\n")
	}
	return &model.ClipResult{
		Title:   "Error clipping: " + url,
		Content: b.String(),
		URL:     url,
		IsError: true,
	}
}
