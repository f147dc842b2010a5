package remote

import (
	"container/list"
	"net/http"
	"sync"
)

// cachedPage is a listing page kept for conditional revalidation.
type cachedPage struct {
	url          string
	etag         string
	lastModified string
	contentType  string
	body         []byte
}

// conditionalHeader builds the revalidation headers for the page.
func (p cachedPage) conditionalHeader() http.Header {
	h := http.Header{}
	if p.etag != "" {
		h.Set("If-None-Match", p.etag)
	}
	if p.lastModified != "" {
		h.Set("If-Modified-Since", p.lastModified)
	}
	return h
}

// pageCache is a thread-safe LRU of listing pages keyed by URL. A nil
// *pageCache is a valid, always-empty cache.
type pageCache struct {
	maxEntries int
	mu         sync.Mutex
	ll         *list.List // front = most recently used
	items      map[string]*list.Element
}

func newPageCache(maxEntries int) *pageCache {
	if maxEntries <= 0 {
		return nil
	}
	return &pageCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *pageCache) get(url string) (cachedPage, bool) {
	if c == nil {
		return cachedPage{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[url]
	if !ok {
		return cachedPage{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(cachedPage), true
}

// put stores p if it carries a validator; pages without one cannot be revalidated.
func (c *pageCache) put(p cachedPage) {
	if c == nil || (p.etag == "" && p.lastModified == "") {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[p.url]; ok {
		el.Value = p
		c.ll.MoveToFront(el)
		return
	}
	c.items[p.url] = c.ll.PushFront(p)

	if c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(cachedPage).url)
	}
}
