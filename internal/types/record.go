// Package types provides shared types used across the dupehound codebase.
package types

import (
	"cmp"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/dupehound/dupehound/internal/fingerprint"
)

// HashRecord is one cached hashing result: the fingerprint of a file or
// directory at a particular segment length, together with enough filesystem
// metadata to detect staleness.
type HashRecord struct {
	Path          string
	DirectoryPath string
	IsDirectory   bool

	// SegmentLength is the sampling window size used, or 0 when the whole
	// content was hashed.
	SegmentLength int64

	// DataLength is the file size, or for directories the recursive sum of
	// the children's DataLength.
	DataLength int64

	Hash fingerprint.Fingerprint

	// LastWriteUTC is the entry's modification time at hash time.
	LastWriteUTC time.Time
	HashTimeUTC  time.Time
}

// UUID derives the record's primary key.
func (r *HashRecord) UUID() string {
	return RecordUUID(r.SegmentLength, r.Path)
}

// RecordUUID builds the primary key for a (segment length, path) pair.
func RecordUUID(segmentLength int64, path string) string {
	return fmt.Sprintf("%d;%s", segmentLength, path)
}

// FreshFor reports whether the record still describes the given filesystem
// entry. A record goes stale when the entry was written after it was hashed,
// when a file's length changed, or when the entry's kind changed.
func (r *HashRecord) FreshFor(info fs.FileInfo) bool {
	if r.IsDirectory != info.IsDir() {
		return false
	}
	if !info.IsDir() && r.DataLength != info.Size() {
		return false
	}
	return !info.ModTime().UTC().After(r.LastWriteUTC)
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// DuplicateGroup contains records proven to share content at some sampling
// level. Records are always sorted by Path for deterministic iteration.
type DuplicateGroup = Sorted[*HashRecord, string]

// NewDuplicateGroup creates a DuplicateGroup sorted by record path.
func NewDuplicateGroup(records []*HashRecord) DuplicateGroup {
	return NewSorted(records, func(r *HashRecord) string { return r.Path })
}

// DuplicateGroups is a sorted collection of duplicate groups.
type DuplicateGroups = Sorted[DuplicateGroup, string]

// NewDuplicateGroups creates sorted DuplicateGroups.
func NewDuplicateGroups(groups []DuplicateGroup) DuplicateGroups {
	return NewSorted(groups, func(g DuplicateGroup) string {
		return g.First().Path
	})
}
