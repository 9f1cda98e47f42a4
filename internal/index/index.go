// Package index holds the ordered, identity keyed entry list shared by every
// repository format and the pure operations that update it.
package index

import (
	"cmp"
	"slices"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/version"
)

// Entry is one package record of an index. Value is the format specific
// rendering data (a Debian paragraph, an RPM package element, a NuGet
// catalog entry).
type Entry[T any] struct {
	ID    models.Identity
	Value T
}

// Index is an ordered list of entries with unique identities. It is a value:
// updates return a new Index and never modify the receiver.
type Index[T any] struct {
	entries []Entry[T]
}

// Entries returns a copy of the entries in index order.
func (idx Index[T]) Entries() []Entry[T] {
	return slices.Clone(idx.entries)
}

// Len returns the number of entries.
func (idx Index[T]) Len() int { return len(idx.entries) }

// Lookup returns the entry with identity id.
func (idx Index[T]) Lookup(id models.Identity) (Entry[T], bool) {
	for _, e := range idx.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry[T]{}, false
}

// Contains reports whether an entry with identity id exists.
func (idx Index[T]) Contains(id models.Identity) bool {
	_, ok := idx.Lookup(id)
	return ok
}

// Updater applies additions and removals to an index, keeping it sorted by
// the format's version order.
type Updater[T any] struct {
	compare version.Comparator
}

// NewUpdater returns an updater ordering entries with compare.
func NewUpdater[T any](compare version.Comparator) *Updater[T] {
	return &Updater[T]{compare: compare}
}

// From builds an index from entries in arbitrary order. When two entries
// share an identity the later one wins.
func (u *Updater[T]) From(entries []Entry[T]) Index[T] {
	seen := make(map[models.Identity]int, len(entries))
	out := make([]Entry[T], 0, len(entries))
	for _, e := range entries {
		if i, ok := seen[e.ID]; ok {
			out[i] = e
			continue
		}
		seen[e.ID] = len(out)
		out = append(out, e)
	}
	u.sort(out)
	return Index[T]{entries: out}
}

// Add returns idx with entry inserted, replacing any entry with the same
// identity. Adding an identical entry twice yields an identical index.
func (u *Updater[T]) Add(idx Index[T], entry Entry[T]) Index[T] {
	out := make([]Entry[T], 0, len(idx.entries)+1)
	for _, e := range idx.entries {
		if e.ID != entry.ID {
			out = append(out, e)
		}
	}
	out = append(out, entry)
	u.sort(out)
	return Index[T]{entries: out}
}

// Remove returns idx without the entry identified by id. Removing an absent
// identity returns idx unchanged and false.
func (u *Updater[T]) Remove(idx Index[T], id models.Identity) (Index[T], bool) {
	i := slices.IndexFunc(idx.entries, func(e Entry[T]) bool { return e.ID == id })
	if i < 0 {
		return idx, false
	}
	return Index[T]{entries: slices.Delete(slices.Clone(idx.entries), i, i+1)}, true
}

// Bounds returns the lowest and highest versions present.
func (u *Updater[T]) Bounds(idx Index[T]) (lower, upper string, ok bool) {
	return u.BoundsBy(idx, func(e Entry[T]) string { return e.ID.Version })
}

// BoundsBy is Bounds with the version label read from the entry by label,
// for indexes whose identity keys are case-folded.
func (u *Updater[T]) BoundsBy(idx Index[T], label func(Entry[T]) string) (lower, upper string, ok bool) {
	if len(idx.entries) == 0 {
		return "", "", false
	}
	return label(idx.entries[0]), label(idx.entries[len(idx.entries)-1]), true
}

// sort orders by version, then by the raw version string, name and variant
// so that any arrival order of the same entries produces the same index.
func (u *Updater[T]) sort(entries []Entry[T]) {
	slices.SortFunc(entries, func(a, b Entry[T]) int {
		if c := u.compare(a.ID.Version, b.ID.Version); c != 0 {
			return c
		}
		return cmp.Or(
			cmp.Compare(a.ID.Version, b.ID.Version),
			cmp.Compare(a.ID.Name, b.ID.Name),
			cmp.Compare(a.ID.Variant, b.ID.Variant),
		)
	})
}
