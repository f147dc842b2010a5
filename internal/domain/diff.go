package domain

import "slices"

// ChangeSet is the additive and removal sides of one reconciliation. Both
// sides are sorted by key.
type ChangeSet struct {
	ToAdd    []CatalogEntry
	ToRemove []CatalogEntry
}

// Empty reports whether applying the change set would be a no-op.
func (cs ChangeSet) Empty() bool {
	return len(cs.ToAdd) == 0 && len(cs.ToRemove) == 0
}

// Diff compares a remote listing against the local catalog.
//
// Remote entries whose key is unknown locally are added; local entries whose
// key is absent remotely are removed. A key present on both sides whose
// filename or remote locator changed is removed and re-added, never updated
// in place. Duplicate keys in remote keep their first occurrence.
func Diff(remote []CatalogEntry, local Catalog) ChangeSet {
	var cs ChangeSet
	seen := make(map[Key]struct{}, len(remote))

	for _, r := range remote {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		l, ok := local.Get(k)
		switch {
		case !ok:
			cs.ToAdd = append(cs.ToAdd, r)
		case l.RemoteLocator != r.RemoteLocator || l.Filename != r.Filename:
			cs.ToRemove = append(cs.ToRemove, l)
			cs.ToAdd = append(cs.ToAdd, r)
		}
	}

	for _, l := range local.Entries() {
		if _, ok := seen[l.Key()]; !ok {
			cs.ToRemove = append(cs.ToRemove, l)
		}
	}

	slices.SortFunc(cs.ToAdd, compareEntries)
	slices.SortFunc(cs.ToRemove, compareEntries)
	return cs
}

// Apply returns the catalog a fully successful run would persist: local
// minus ToRemove plus ToAdd. local is not modified.
func (cs ChangeSet) Apply(local Catalog) Catalog {
	out := local.Clone()
	for _, e := range cs.ToRemove {
		out.Delete(e.Key())
	}
	for _, e := range cs.ToAdd {
		out.Put(e)
	}
	return out
}
