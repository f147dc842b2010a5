package domain

import (
	"maps"
	"slices"
)

// Catalog is the set of entries indexed for one category, keyed by Key.
// The zero value is an empty catalog without a category; use NewCatalog.
type Catalog struct {
	category Category
	entries  map[Key]CatalogEntry
}

// NewCatalog builds a catalog for category. Entries are re-homed into the
// category; a later entry with the same key replaces an earlier one.
func NewCatalog(category Category, entries ...CatalogEntry) Catalog {
	c := Catalog{category: category, entries: make(map[Key]CatalogEntry, len(entries))}
	for _, e := range entries {
		c.Put(e)
	}
	return c
}

// Category returns the category the catalog belongs to.
func (c Catalog) Category() Category { return c.category }

// Len returns the number of entries.
func (c Catalog) Len() int { return len(c.entries) }

// Get looks up the entry stored under k.
func (c Catalog) Get(k Key) (CatalogEntry, bool) {
	e, ok := c.entries[k]
	return e, ok
}

// Put inserts or replaces e.
func (c *Catalog) Put(e CatalogEntry) {
	if c.entries == nil {
		c.entries = make(map[Key]CatalogEntry)
	}
	e.Category = c.category
	c.entries[e.Key()] = e
}

// Delete removes the entry stored under k, if any.
func (c *Catalog) Delete(k Key) {
	delete(c.entries, k)
}

// Entries returns all entries sorted by key.
func (c Catalog) Entries() []CatalogEntry {
	out := slices.Collect(maps.Values(c.entries))
	slices.SortFunc(out, compareEntries)
	return out
}

// Clone returns an independent copy.
func (c Catalog) Clone() Catalog {
	return Catalog{category: c.category, entries: maps.Clone(c.entries)}
}

// Equal reports whether both catalogs hold identical entries.
func (c Catalog) Equal(o Catalog) bool {
	return c.category == o.category && maps.Equal(c.entries, o.entries)
}

func compareEntries(a, b CatalogEntry) int {
	return a.Key().Compare(b.Key())
}
