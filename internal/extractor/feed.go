package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/mmcdole/gofeed"

	"clip_bot/internal/model"
)

const (
	maxFeedSize  = 5 * 1024 * 1024
	maxFeedItems = 50
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedHandler clips RSS and Atom feeds as a Markdown digest of their items.
// Feeds are plain XML, so they are fetched directly instead of rendered.
type FeedHandler struct {
	client    HTTPClient
	timeout   time.Duration
	converter *md.Converter
}

// NewFeedHandler creates a FeedHandler with the given HTTP client.
func NewFeedHandler(client HTTPClient) *FeedHandler {
	return &FeedHandler{
		client:    client,
		timeout:   30 * time.Second,
		converter: md.NewConverter("", true, nil),
	}
}

// CanHandle reports whether rawURL looks like a feed address.
func (h *FeedHandler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(strings.TrimSuffix(u.Path, "/"))
	switch path.Ext(p) {
	case ".rss", ".atom", ".xml":
		return true
	}
	base := path.Base(p)
	return base == "feed" || base == "rss" || base == "atom"
}

// Handle downloads and parses the feed at rawURL.
func (h *FeedHandler) Handle(ctx context.Context, rawURL string) (*model.ClipResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failureClip(rawURL, fmt.Errorf("create request: %w", err)), nil
	}
	req.Header.Set("User-Agent", "ClipBot/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return failureClip(rawURL, fmt.Errorf("http get: %w", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return statusClip(finalURL, resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return failureClip(finalURL, fmt.Errorf("read body: %w", err)), nil
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return failureClip(finalURL, fmt.Errorf("parse feed: %w", err)), nil
	}
	return h.digest(feed, finalURL), nil
}

func (h *FeedHandler) digest(feed *gofeed.Feed, finalURL string) *model.ClipResult {
	clip := &model.ClipResult{
		Title:       strings.TrimSpace(feed.Title),
		Description: strings.TrimSpace(feed.Description),
		SiteName:    hostname(feed.Link),
		URL:         finalURL,
	}
	if clip.Title == "" {
		clip.Title = hostname(finalURL)
	}
	if clip.SiteName == "" {
		clip.SiteName = hostname(finalURL)
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		clip.Author = feed.Authors[0].Name
	}
	if feed.PublishedParsed != nil {
		clip.Published = feed.PublishedParsed.UTC().Format(time.RFC3339)
	} else if feed.UpdatedParsed != nil {
		clip.Published = feed.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(clip.Title)
	b.WriteString("\n")
	if clip.Description != "" {
		b.WriteString("\n")
		b.WriteString(clip.Description)
		b.WriteString("\n")
	}

	items := feed.Items
	if len(items) > maxFeedItems {
		items = items[:maxFeedItems]
	}
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Untitled"
		}
		b.WriteString("\n## ")
		if item.Link != "" {
			fmt.Fprintf(&b, "[%s](%s)", title, item.Link)
		} else {
			b.WriteString(title)
		}
		b.WriteString("\n")
		if item.PublishedParsed != nil {
			fmt.Fprintf(&b, "\n*%s*\n", item.PublishedParsed.UTC().Format("2006-01-02"))
		}
		if summary := h.summary(item.Description); summary != "" {
			b.WriteString("\n")
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}
	clip.Content = strings.TrimRight(b.String(), "\n")
	return clip
}

// summary converts an item description to Markdown, falling back to the raw
// text when it is not valid HTML.
func (h *FeedHandler) summary(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	out, err := h.converter.ConvertString(desc)
	if err != nil {
		return desc
	}
	return strings.TrimSpace(out)
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
