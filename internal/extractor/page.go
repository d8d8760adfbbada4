package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"clip_bot/internal/model"
)

// Page is a rendered document as seen by the browser after scripts ran.
type Page struct {
	// URL is the final address after redirects.
	URL    string
	Status int
	HTML   string
}

// Renderer loads a URL in a browser and returns the rendered page.
type Renderer interface {
	Render(ctx context.Context, url string) (*Page, error)
}

// LaunchError means the browser itself could not be started, as opposed to
// a single page failing to load.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return "launch browser: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Elements stripped before picking the main content.
var noise = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[aria-hidden=true]",
}, ", ")

// Candidates for the main content node, most specific first.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".post-content",
	".entry-content",
	"body",
}

// PageHandler clips regular web pages. It accepts every URL, so it belongs at
// the end of the handler chain.
type PageHandler struct {
	renderer Renderer
}

// NewPageHandler creates a PageHandler that renders pages with r.
func NewPageHandler(r Renderer) *PageHandler {
	return &PageHandler{renderer: r}
}

// CanHandle always returns true.
func (h *PageHandler) CanHandle(string) bool {
	return true
}

// Handle renders url and extracts its readable content.
func (h *PageHandler) Handle(ctx context.Context, url string) (*model.ClipResult, error) {
	page, err := h.renderer.Render(ctx, url)
	if err != nil {
		var launchErr *LaunchError
		if errors.As(err, &launchErr) {
			return nil, err
		}
		return failureClip(url, err), nil
	}
	if page.URL == "" {
		page.URL = url
	}
	if page.Status == 0 || page.Status >= http.StatusBadRequest {
		return statusClip(page.URL, page.Status), nil
	}

	clip, err := Parse(page.HTML, page.URL)
	if err != nil {
		return failureClip(page.URL, err), nil
	}
	return clip, nil
}

// Parse extracts metadata and the main content of an HTML document as
// Markdown. pageURL is the final address of the document.
func Parse(html, pageURL string) (*model.ClipResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	clip := &model.ClipResult{
		Title: first(
			meta(doc, "og:title"),
			meta(doc, "twitter:title"),
			text(doc.Find("head title")),
			text(doc.Find("h1")),
			hostname(pageURL),
		),
		Author: first(
			meta(doc, "author"),
			meta(doc, "article:author"),
			text(doc.Find("[rel=author], [itemprop=author]")),
		),
		Description: first(
			meta(doc, "description"),
			meta(doc, "og:description"),
			meta(doc, "twitter:description"),
		),
		SiteName: first(
			meta(doc, "og:site_name"),
			meta(doc, "application-name"),
		),
		Published: first(
			meta(doc, "article:published_time"),
			meta(doc, "date"),
			attr(doc.Find("time[datetime]"), "datetime"),
		),
		URL: pageURL,
	}

	doc.Find(noise).Remove()
	node := doc.Find("body")
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			node = s
			break
		}
	}

	conv := md.NewConverter(hostname(pageURL), true, nil)
	clip.Content = strings.TrimSpace(conv.Convert(node))
	return clip, nil
}

func meta(doc *goquery.Document, name string) string {
	sel := fmt.Sprintf(`meta[name=%q], meta[property=%q]`, name, name)
	return attr(doc.Find(sel), "content")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.First().Attr(name)
	return strings.TrimSpace(v)
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.First().Text()), " ")
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
