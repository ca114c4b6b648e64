// Package cache provides two-tier caching of hash records: a concurrent
// in-memory tier in front of the persistent store.
//
// The cache is advisory. Store faults degrade to cache misses and hashing
// continues; stale rows are rejected on lookup, never proactively deleted.
package cache

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/dupehound/dupehound/internal/store"
	"github.com/dupehound/dupehound/internal/types"
)

// Cache is safe for concurrent use by hashing workers.
type Cache struct {
	st   store.Store // nil = memory-only
	opts types.Options

	mu sync.RWMutex
	// mem is the in-memory tier: segment length -> path -> record.
	mem map[int64]map[string]*types.HashRecord
	// neg records paths proven absent from the store at a segment length
	// during this run, to short-circuit repeat misses.
	neg map[int64]map[string]struct{}
	// precached tracks directories whose subtree rows were already
	// bulk-loaded, so pre-caching happens once per directory per run.
	precached map[string]struct{}

	errCh chan error
}

// New creates a cache over st. A nil store yields a memory-only cache.
// Non-fatal store faults are reported on errCh when it is non-nil.
func New(st store.Store, opts types.Options, errCh chan error) *Cache {
	c := &Cache{
		st:        st,
		opts:      opts,
		mem:       make(map[int64]map[string]*types.HashRecord),
		neg:       make(map[int64]map[string]struct{}),
		precached: make(map[string]struct{}),
		errCh:     errCh,
	}
	if st != nil {
		if err := st.EnsureUniqueIndex("uuid"); err != nil {
			c.sendError(fmt.Errorf("ensure index: %w", err))
		}
	}
	return c
}

// Get returns a fresh record for the entry at the given segment length, or
// nil on a miss. info must describe the entry's current filesystem state;
// freshness is judged against it.
func (c *Cache) Get(path string, info fs.FileInfo, segmentLength int64) *types.HashRecord {
	if rec := c.memGet(path, info, segmentLength); rec != nil {
		return rec
	}
	if c.negHas(path, segmentLength) {
		return nil
	}
	if c.st == nil {
		c.negMark(path, segmentLength)
		return nil
	}

	if !info.IsDir() {
		// Files are looked up through their parent directory's rows: one
		// bulk load amortises the store round-trips for every sibling.
		c.precacheDir(filepath.Dir(path))
		if rec := c.memGet(path, info, segmentLength); rec != nil {
			return rec
		}
		if c.opts.RestrictFilesToMemCache {
			c.negMark(path, segmentLength)
			return nil
		}
	} else if c.opts.PrecacheDirectories {
		c.precacheDir(path)
		if rec := c.memGet(path, info, segmentLength); rec != nil {
			return rec
		}
	}

	rec, err := c.st.QueryOne(path, segmentLength, info.ModTime().UTC())
	if err != nil {
		c.sendError(fmt.Errorf("cache query %s: %w", path, err))
		return nil
	}
	if rec == nil || !rec.FreshFor(info) {
		c.negMark(path, segmentLength)
		return nil
	}
	c.memPut(rec)
	return rec
}

// Put records a successful hash in both tiers.
func (c *Cache) Put(rec *types.HashRecord) {
	c.memPut(rec)
	c.negClear(rec.Path, rec.SegmentLength)
	if c.st == nil {
		return
	}
	if err := c.st.Upsert(rec); err != nil {
		c.sendError(fmt.Errorf("cache store %s: %w", rec.Path, err))
	}
}

// GroupByFingerprint exposes the store's candidate grouping. A memory-only
// cache has nothing to group.
func (c *Cache) GroupByFingerprint(segmentLength int64, prefix string) ([]store.Group, error) {
	if c.st == nil {
		return nil, nil
	}
	return c.st.GroupByFingerprint(segmentLength, prefix)
}

// memGet serves a lookup from the in-memory tier. A whole-hash row answers
// a sampled lookup when its content is small enough that the sampled hash
// would have read the whole file anyway.
func (c *Cache) memGet(path string, info fs.FileInfo, segmentLength int64) *types.HashRecord {
	c.mu.RLock()
	rec := c.mem[segmentLength][path]
	var whole *types.HashRecord
	if segmentLength > 0 {
		whole = c.mem[0][path]
	}
	c.mu.RUnlock()

	if rec != nil && rec.FreshFor(info) {
		return rec
	}
	if whole != nil && whole.DataLength <= 2*segmentLength && whole.FreshFor(info) {
		return whole
	}
	return nil
}

func (c *Cache) memPut(rec *types.HashRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tier := c.mem[rec.SegmentLength]
	if tier == nil {
		tier = make(map[string]*types.HashRecord)
		c.mem[rec.SegmentLength] = tier
	}
	tier[rec.Path] = rec
}

// precacheDir bulk-loads every store row under dir into the memory tier,
// once per run. Freshness is not judged here; reads re-validate.
func (c *Cache) precacheDir(dir string) {
	c.mu.Lock()
	if _, done := c.precached[dir]; done {
		c.mu.Unlock()
		return
	}
	c.precached[dir] = struct{}{}
	c.mu.Unlock()

	rows, err := c.st.QueryDirPrefix(dir)
	if err != nil {
		c.sendError(fmt.Errorf("precache %s: %w", dir, err))
		return
	}
	for _, rec := range rows {
		c.memPut(rec)
	}
}

func (c *Cache) negHas(path string, segmentLength int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.neg[segmentLength][path]
	return ok
}

func (c *Cache) negMark(path string, segmentLength int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.neg[segmentLength]
	if set == nil {
		set = make(map[string]struct{})
		c.neg[segmentLength] = set
	}
	set[path] = struct{}{}
}

func (c *Cache) negClear(path string, segmentLength int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.neg[segmentLength], path)
}

func (c *Cache) sendError(err error) {
	if c.errCh != nil {
		c.errCh <- err
	}
}
