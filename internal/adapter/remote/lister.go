package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

// maxPageSize bounds a single listing page. The country listings are a few
// hundred kilobytes.
const maxPageSize = 16 << 20

// Lister crawls the remote directory listing of each category.
// It implements syncer.Lister.
type Lister struct {
	client    *Client
	sources   map[domain.Category]string
	maxDepth  int
	pageLimit int64
	cache     *pageCache
	logger    *slog.Logger
}

// NewLister creates a Lister. maxDepth bounds how many sub-directory levels
// below a category's base URL are followed; cacheSize bounds the number of
// pages kept for conditional revalidation (0 disables the cache).
func NewLister(client *Client, sources map[domain.Category]string, maxDepth, cacheSize int, logger *slog.Logger) *Lister {
	return &Lister{
		client:    client,
		sources:   sources,
		maxDepth:  maxDepth,
		pageLimit: maxPageSize,
		cache:     newPageCache(cacheSize),
		logger:    logger,
	}
}

// List fetches every listing page of the category and returns a lazy,
// restartable sequence of rows. Each row is either an entry with a nil error
// or a zero entry with a *domain.ParseError.
//
// Errors wrap domain.ErrRemoteUnavailable when any page cannot be fetched
// (a partial listing would unindex everything on the missing pages) and
// domain.ErrRemoteFormat when a page is not HTML or the crawl found no
// weather files at all.
func (l *Lister) List(ctx context.Context, category domain.Category) (iter.Seq2[domain.CatalogEntry, error], error) {
	lst, err := l.crawl(ctx, category)
	if err != nil {
		return nil, err
	}
	l.logger.Info("listing fetched", "category", category, "pages", lst.pages, "candidates", len(lst.links))
	return lst.entries, nil
}

// link is a candidate row: an href or title that ends in a weather extension.
type link struct {
	page   *url.URL
	target string
}

type listing struct {
	category domain.Category
	pages    int
	links    []link
}

func (l *Lister) crawl(ctx context.Context, category domain.Category) (*listing, error) {
	raw, ok := l.sources[category]
	if !ok {
		return nil, fmt.Errorf("no source configured for category %q", category)
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse source URL for %s: %w", category, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	type pending struct {
		u     *url.URL
		depth int
	}
	queue := []pending{{u: base}}
	visited := map[string]bool{base.String(): true}
	out := &listing{category: category}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		anchors, err := l.fetchPage(ctx, p.u)
		if err != nil {
			return nil, err
		}
		out.pages++

		for _, a := range anchors {
			target := a.target()
			if target == "" {
				continue
			}
			ref, err := url.Parse(target)
			if err != nil {
				// Kept so the row surfaces as a parse error instead of vanishing.
				if domain.HasWeatherExtension(stripQuery(target)) {
					out.links = append(out.links, link{page: p.u, target: target})
				}
				continue
			}
			abs := p.u.ResolveReference(ref)
			abs.Fragment = ""

			if strings.HasSuffix(abs.Path, "/") {
				key := abs.String()
				if p.depth < l.maxDepth && isChild(base, abs) && !visited[key] {
					visited[key] = true
					queue = append(queue, pending{u: abs, depth: p.depth + 1})
				}
				continue
			}
			if domain.HasWeatherExtension(abs.Path) {
				out.links = append(out.links, link{page: p.u, target: target})
			}
		}
	}

	if len(out.links) == 0 {
		return nil, fmt.Errorf("%w: %s: no weather files in %d page(s)", domain.ErrRemoteFormat, base, out.pages)
	}
	return out, nil
}

// fetchPage downloads one listing page, revalidating a cached copy when
// possible, and extracts its anchors.
func (l *Lister) fetchPage(ctx context.Context, u *url.URL) ([]anchor, error) {
	key := u.String()
	cached, hit := l.cache.get(key)

	var header http.Header
	if hit {
		header = cached.conditionalHeader()
	}

	resp, err := l.client.get(ctx, kindListing, key, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	var body []byte
	var contentType string
	if resp.StatusCode == http.StatusNotModified {
		if !hit {
			return nil, fmt.Errorf("%w: %s: unsolicited 304", domain.ErrRemoteUnavailable, key)
		}
		l.logger.Debug("listing page not modified", "url", key)
		body, contentType = cached.body, cached.contentType
	} else {
		body, err = io.ReadAll(io.LimitReader(resp.Body, l.pageLimit+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrRemoteUnavailable, key, err)
		}
		// A cut page would silently unindex every row past the cut.
		if int64(len(body)) > l.pageLimit {
			return nil, fmt.Errorf("%w: %s: page exceeds %d bytes", domain.ErrRemoteFormat, key, l.pageLimit)
		}
		contentType = resp.Header.Get("Content-Type")
		l.cache.put(cachedPage{
			url:          key,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			contentType:  contentType,
			body:         body,
		})
	}

	if !isHTML(contentType) {
		return nil, fmt.Errorf("%w: %s: unexpected content type %q", domain.ErrRemoteFormat, key, contentType)
	}
	return extractAnchors(body), nil
}

// entries is the iter.Seq2 over a crawled listing. Rows are classified while
// iterating and de-duplicated by resolved URL; every call starts over.
func (lst *listing) entries(yield func(domain.CatalogEntry, error) bool) {
	seen := make(map[string]struct{}, len(lst.links))
	for _, lk := range lst.links {
		e, err := lst.parse(lk)
		if err == nil {
			if _, dup := seen[e.RemoteLocator]; dup {
				continue
			}
			seen[e.RemoteLocator] = struct{}{}
		}
		if !yield(e, err) {
			return
		}
	}
}

func (lst *listing) parse(lk link) (domain.CatalogEntry, error) {
	fail := func(reason string) (domain.CatalogEntry, error) {
		return domain.CatalogEntry{}, &domain.ParseError{Page: lk.page.String(), Href: lk.target, Reason: reason}
	}

	ref, err := url.Parse(lk.target)
	if err != nil {
		return fail("invalid URL: " + err.Error())
	}
	abs := lk.page.ResolveReference(ref)
	abs.Fragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return fail(fmt.Sprintf("unsupported scheme %q", abs.Scheme))
	}

	name := path.Base(abs.Path)
	station, kind, err := domain.ClassifyFilename(name)
	if err != nil {
		return fail(err.Error())
	}

	return domain.CatalogEntry{
		StationID:     station,
		Category:      lst.category,
		FileKind:      kind,
		Filename:      name,
		RemoteLocator: abs.String(),
	}, nil
}

// anchor holds the attributes that may carry a listing row's path.
type anchor struct {
	href  string
	title string
}

// target prefers href and falls back to title for script-driven links.
func (a anchor) target() string {
	h := strings.TrimSpace(a.href)
	if h == "" || h == "#" || strings.HasPrefix(strings.ToLower(h), "javascript:") {
		return strings.TrimSpace(a.title)
	}
	return h
}

// extractAnchors collects href/title pairs from <a> tags and bare title
// attributes from any other element. The tokenizer never fails on malformed
// markup; it stops at the end of input.
func extractAnchors(body []byte) []anchor {
	z := html.NewTokenizer(bytes.NewReader(body))
	var out []anchor
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			var a anchor
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch string(key) {
				case "href":
					a.href = string(val)
				case "title":
					a.title = string(val)
				}
			}
			if string(name) != "a" {
				a.href = ""
			}
			if a.href != "" || a.title != "" {
				out = append(out, a)
			}
		}
	}
}

// isChild reports whether u lies strictly below base on the same origin.
func isChild(base, u *url.URL) bool {
	return u.Scheme == base.Scheme &&
		u.Host == base.Host &&
		u.RawQuery == "" &&
		u.Path != base.Path &&
		strings.HasPrefix(u.Path, base.Path)
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
