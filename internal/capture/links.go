package capture

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// LinkExtractor collects same-domain, screenshot-eligible anchors from a
// rendered page.
type LinkExtractor struct {
	Attempts int
	Pause    time.Duration
	Sleep    Sleeper
	logger   *zap.Logger
}

// NewLinkExtractor returns an extractor with three attempts one second apart.
func NewLinkExtractor(logger *zap.Logger) *LinkExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkExtractor{
		Attempts: 3,
		Pause:    time.Second,
		Sleep:    ContextSleep,
		logger:   logger,
	}
}

// Extract returns absolute link targets in discovery order without
// duplicates. When baseURL is non-empty, links to other hosts are dropped.
// Read failures are retried; if every attempt fails the result is empty.
func (x *LinkExtractor) Extract(ctx context.Context, page Page, baseURL string) []string {
	attempts := x.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		links, err := x.extractOnce(ctx, page, baseURL)
		if err == nil {
			return links
		}
		x.logger.Warn("link extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts && x.Sleep != nil {
			_ = x.Sleep(ctx, x.Pause)
		}
	}
	return []string{}
}

func (x *LinkExtractor) extractOnce(ctx context.Context, page Page, baseURL string) ([]string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	docURL := baseURL
	if loc, locErr := page.Location(ctx); locErr == nil && loc != "" {
		docURL = loc
	}
	docBase, _ := url.Parse(docURL)

	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, ok := x.eligible(strings.TrimSpace(href), sel.Text(), docBase, base)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links, nil
}

func (x *LinkExtractor) eligible(href, text string, docBase, base *url.URL) (string, bool) {
	if href == "" {
		return "", false
	}
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(lower, "mailto:"):
		x.logger.Debug("skipping mailto link", zap.String("url", href))
		return "", false
	case strings.HasPrefix(lower, "javascript:"):
		x.logger.Debug("skipping javascript link", zap.String("url", href))
		return "", false
	case strings.Contains(lower, "poczta") || strings.Contains(strings.ToLower(text), "poczta"):
		x.logger.Debug("skipping poczta link", zap.String("url", href))
		return "", false
	case hasImageExtension(lower):
		x.logger.Debug("skipping image link", zap.String("url", href))
		return "", false
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil && parsed.Host != "" && !strings.EqualFold(parsed.Host, base.Host) {
		x.logger.Debug("skipping external link", zap.String("url", href))
		return "", false
	}
	if docBase != nil {
		parsed = docBase.ResolveReference(parsed)
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	parsed.Fragment = ""
	return parsed.String(), true
}

func hasImageExtension(lowerHref string) bool {
	path := lowerHref
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) || strings.HasSuffix(lowerHref, ext) {
			return true
		}
	}
	return false
}
