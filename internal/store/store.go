// Package store persists hash records in an embedded key-value database.
//
// The Store interface is the seam between the caching layer and the concrete
// database; the engine never talks to the database directly. The shipped
// implementation is backed by BoltDB.
package store

import (
	"path/filepath"
	"time"

	"github.com/dupehound/dupehound/internal/fingerprint"
	"github.com/dupehound/dupehound/internal/types"
)

// Group is a set of records sharing one fingerprint.
type Group struct {
	Hash    fingerprint.Fingerprint
	Records []*types.HashRecord
}

// Store is the persistence interface consumed by the cache and the duplicate
// engine. Implementations serialise their own concurrency; callers may issue
// operations from multiple goroutines.
type Store interface {
	// EnsureUniqueIndex declares a uniquely-indexed field. Implementations
	// whose keying already guarantees uniqueness may treat this as a
	// declaration only.
	EnsureUniqueIndex(field string) error

	// Get returns the record with the given primary key, or nil when absent.
	Get(uuid string) (*types.HashRecord, error)

	// QueryOne returns a record for path written at or after since whose
	// stored segment length satisfies the requested one: either it matches
	// exactly, or the stored row already covered the whole content
	// (DataLength <= 2*segmentLength, or for whole-hash queries
	// DataLength <= 2*stored segment). Returns nil when no row qualifies.
	QueryOne(path string, segmentLength int64, since time.Time) (*types.HashRecord, error)

	// QueryDirPrefix returns every record whose DirectoryPath equals dir or
	// is a descendant of it, across all segment lengths.
	QueryDirPrefix(dir string) ([]*types.HashRecord, error)

	// GroupByFingerprint groups records at the given segment length (plus
	// whole-hash rows small enough that hashing at that segment length would
	// have whole-hashed them) by fingerprint, optionally restricted to a
	// directory prefix. Empty prefix means all records.
	GroupByFingerprint(segmentLength int64, prefix string) ([]Group, error)

	// Upsert writes the record, replacing any row with the same primary key.
	Upsert(rec *types.HashRecord) error

	Close() error
}

// UnderDir reports whether dirPath equals dir or lies beneath it.
func UnderDir(dirPath, dir string) bool {
	if dirPath == dir {
		return true
	}
	if len(dirPath) <= len(dir) {
		return false
	}
	return dirPath[:len(dir)] == dir && dirPath[len(dir)] == filepath.Separator
}
