package ingest

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
)

const fetchUserAgent = "kgraph/1.0 (+https://github.com/kgraph)"

// Fetcher retrieves a web page, extracts the readable article and converts
// it to markdown so URL submissions enter the same pipeline as text.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	allowPrivate bool
	logger       *zap.Logger
}

// FetchedPage is the markdown form of a fetched URL.
type FetchedPage struct {
	Title    string
	Markdown string
	URL      string
}

// NewFetcher builds a Fetcher from the ingest configuration.
func NewFetcher(cfg config.Ingest, logger *zap.Logger) *Fetcher {
	timeout := cfg.URLFetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.URLMaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	f := &Fetcher{
		maxBytes:     maxBytes,
		allowPrivate: cfg.AllowPrivateURLs,
		logger:       logger,
	}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return kgerrors.Validation("too many redirects fetching %s", via[0].URL.Host)
			}
			return f.validateURL(req.URL)
		},
	}
	return f
}

// Fetch downloads rawURL and returns its readable content as markdown.
// HTML pages go through article extraction; plain text and markdown pass
// through unchanged.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchedPage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, kgerrors.Validation("invalid url: %v", err)
	}
	if err := f.validateURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, kgerrors.Validation("invalid url: %v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kgerrors.Cancelled("fetch " + u.Host)
		}
		return nil, kgerrors.Provider(true, err, "fetch %s", u.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, kgerrors.Provider(transient, nil, "fetch %s: HTTP %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, kgerrors.Provider(true, err, "fetch %s: read body", u.Host)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, kgerrors.Validation("page at %s exceeds %d bytes", u.Host, f.maxBytes)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		return f.extractArticle(u, body)
	case strings.Contains(contentType, "text/plain"), strings.Contains(contentType, "text/markdown"):
		text := strings.TrimSpace(string(body))
		if text == "" {
			return nil, kgerrors.Validation("page at %s has no text content", u.Host)
		}
		return &FetchedPage{Title: pageSlug(u), Markdown: text, URL: u.String()}, nil
	default:
		return nil, kgerrors.Validation("unsupported content type %q at %s", contentType, u.Host)
	}
}

// extractArticle runs readability over the page and converts the article
// HTML to GitHub-flavored markdown. Falls back to the plain text extraction
// when conversion yields nothing.
func (f *Fetcher) extractArticle(u *url.URL, body []byte) (*FetchedPage, error) {
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return nil, kgerrors.Validation("no readable content at %s: %v", u.Host, err)
	}

	converter := md.NewConverter(u.Host, true, nil)
	converter.Use(plugin.GitHubFlavored())

	markdown, err := converter.ConvertString(article.Content)
	if err != nil || strings.TrimSpace(markdown) == "" {
		markdown = article.TextContent
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, kgerrors.Validation("no readable content at %s", u.Host)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = pageSlug(u)
	}
	f.logger.Debug("fetched page",
		zap.String("url", u.String()),
		zap.String("title", title),
		zap.Int("markdown_bytes", len(markdown)))

	return &FetchedPage{Title: title, Markdown: markdown, URL: u.String()}, nil
}

// validateURL restricts fetches to public http(s) targets. Literal loopback
// and private addresses are refused unless allow_private_urls is set;
// DNS-resolved private targets are the deployment firewall's concern.
func (f *Fetcher) validateURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return kgerrors.Validation("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return kgerrors.Validation("url has no host")
	}
	if f.allowPrivate {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" {
		return kgerrors.Validation("refusing to fetch %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
		return kgerrors.Validation("refusing to fetch private address %s", host)
	}
	return nil
}

// pageSlug derives a readable fallback title from the URL.
func pageSlug(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return u.Host
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}
