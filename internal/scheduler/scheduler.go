// Package scheduler drives sampled hashing over a filesystem tree.
//
// # Concurrency Model
//
// Every directory entry becomes a goroutine; a parent directory spawns its
// children eagerly and waits for all of them before aggregating. Goroutine
// count is bounded by tree size, while a single weighted semaphore bounds the
// number of concurrently open filesystem entries: a permit is held for the
// duration of one entry's own I/O only, never across a child's.
//
// # Data Flow
//
//	Hash(root) starts
//	    │
//	    ├──► canonicalise path, stat, seed the ignore matcher
//	    │
//	    └──► hashDir(root)
//	             │
//	             ├──► cache lookup (fresh record ⇒ done, no I/O)
//	             ├──► acquire permit → list directory → release permit
//	             ├──► spawn hashDir/hashFile per child  [recursive fan-out]
//	             ├──► wait for children, skip absent ones
//	             └──► aggregate fingerprints → cache → callback
//
// Failed children (permission denied, read errors) are reported on the error
// channel and omitted from their parent's aggregate; they never poison
// siblings or the root. Cancellation is checked before permits, between
// reads, and before each recursive dispatch.
package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dupehound/dupehound/internal/cache"
	"github.com/dupehound/dupehound/internal/fingerprint"
	"github.com/dupehound/dupehound/internal/hasher"
	"github.com/dupehound/dupehound/internal/ignore"
	"github.com/dupehound/dupehound/internal/progress"
	"github.com/dupehound/dupehound/internal/types"
)

// Scheduler hashes filesystem trees with bounded parallelism. It is safe for
// concurrent use: the duplicate engine issues many Hash calls at once and
// all of them share the cache, the permit semaphore and the reporter.
type Scheduler struct {
	cache    *cache.Cache
	sem      *semaphore.Weighted
	excludes []string
	reporter *progress.Reporter
	errCh    chan error
	onHashed func(*types.HashRecord)
}

// New creates a Scheduler.
//
// maxJobs bounds concurrently open filesystem entries. excludes are
// unanchored glob patterns applied on top of any .dupeignore files. onHashed,
// when non-nil, is invoked after every freshly hashed entry (cache hits do
// not fire it).
func New(hashCache *cache.Cache, maxJobs int, excludes []string, reporter *progress.Reporter, errCh chan error, onHashed func(*types.HashRecord)) *Scheduler {
	if reporter == nil {
		reporter = progress.NewReporter(nil)
	}
	return &Scheduler{
		cache:    hashCache,
		sem:      semaphore.NewWeighted(int64(maxJobs)),
		excludes: excludes,
		reporter: reporter,
		errCh:    errCh,
		onHashed: onHashed,
	}
}

// Hash fingerprints the tree rooted at path with the given sampling segment
// length (0 = whole content).
//
// Errors are returned only for cancellation, for a root that cannot be
// hashed at all, and for roots that are neither regular files nor
// directories (programmer error). Failures below the root are reported on
// the error channel and the affected entries are omitted.
func (s *Scheduler) Hash(ctx context.Context, path string, segmentLength int64) (*types.HashRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("canonicalise %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}

	matcher := (&ignore.Matcher{}).WithPatterns(s.excludes)

	var rec *types.HashRecord
	switch {
	case info.IsDir():
		rec, err = s.hashDir(ctx, abs, info, matcher, segmentLength)
	case info.Mode().IsRegular():
		// The nearest ignore file for a file root sits one level up.
		matcher, merr := matcher.Extend(filepath.Dir(abs))
		if merr != nil {
			s.sendError(fmt.Errorf("read ignore file for %s: %w", abs, merr))
		}
		if matcher.Match(abs) {
			return nil, fmt.Errorf("%s: excluded by ignore patterns", abs)
		}
		rec, err = s.hashFile(ctx, abs, info, segmentLength)
	default:
		return nil, fmt.Errorf("%s: not a regular file or directory", abs)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: hashing failed", abs)
	}
	return rec, nil
}

// hashFile fingerprints one file. Returns (nil, nil) when the file had to be
// omitted; the cause has already been reported.
func (s *Scheduler) hashFile(ctx context.Context, path string, info fs.FileInfo, segmentLength int64) (*types.HashRecord, error) {
	if rec := s.cache.Get(path, info, segmentLength); rec != nil {
		return rec, nil
	}

	// One permit covers this file's I/O, nothing else.
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	s.reporter.AddToRead(hasher.PlannedBytes(info.Size(), segmentLength))

	f, err := os.Open(path)
	if err != nil {
		s.sendError(fmt.Errorf("open %s: %w", path, err))
		return nil, nil
	}
	defer func() { _ = f.Close() }()

	res, err := hasher.Hash(ctx, f, info.Size(), segmentLength, s.reporter.AddRead)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.sendError(fmt.Errorf("hash %s: %w", path, err))
		return nil, nil
	}

	rec := &types.HashRecord{
		Path:          path,
		DirectoryPath: filepath.Dir(path),
		SegmentLength: res.SegmentLength,
		DataLength:    info.Size(),
		Hash:          res.Hash,
		LastWriteUTC:  info.ModTime().UTC(),
		HashTimeUTC:   time.Now().UTC(),
	}
	s.cache.Put(rec)
	if s.onHashed != nil {
		s.onHashed(rec)
	}
	return rec, nil
}

// hashDir fingerprints a directory as the aggregate of its children.
// Returns (nil, nil) when the directory could not be listed.
func (s *Scheduler) hashDir(ctx context.Context, path string, info fs.FileInfo, matcher *ignore.Matcher, segmentLength int64) (*types.HashRecord, error) {
	if rec := s.cache.Get(path, info, segmentLength); rec != nil {
		return rec, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matcher, merr := matcher.Extend(path)
	if merr != nil {
		s.sendError(fmt.Errorf("read ignore file in %s: %w", path, merr))
	}

	// The permit covers this directory's own enumeration only; it is
	// released before descending so children can acquire.
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	s.sem.Release(1)
	if err != nil {
		s.sendError(fmt.Errorf("list %s: %w", path, err))
		return nil, nil
	}

	results := make([]*types.HashRecord, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		childPath := filepath.Join(path, entry.Name())
		if matcher.Match(childPath) {
			continue
		}
		// Symlinks, devices, sockets etc. are skipped, not followed.
		if !entry.IsDir() && !entry.Type().IsRegular() {
			continue
		}

		wg.Add(1)
		go func(i int, childPath string, entry os.DirEntry) {
			defer wg.Done()

			childInfo, err := entry.Info()
			if err != nil {
				s.sendError(fmt.Errorf("stat %s: %w", childPath, err))
				return
			}

			var rec *types.HashRecord
			if entry.IsDir() {
				rec, _ = s.hashDir(ctx, childPath, childInfo, matcher, segmentLength)
			} else {
				rec, _ = s.hashFile(ctx, childPath, childInfo, segmentLength)
			}
			results[i] = rec
		}(i, childPath, entry)
	}
	wg.Wait()

	// Cancelled subtrees must not be cached as truncated aggregates.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var children []fingerprint.Fingerprint
	var total int64
	for _, rec := range results {
		if rec == nil {
			continue
		}
		children = append(children, rec.Hash)
		total += rec.DataLength
	}

	rec := &types.HashRecord{
		Path:          path,
		DirectoryPath: filepath.Dir(path),
		IsDirectory:   true,
		SegmentLength: segmentLength,
		DataLength:    total,
		Hash:          fingerprint.Combine(children),
		LastWriteUTC:  info.ModTime().UTC(),
		HashTimeUTC:   time.Now().UTC(),
	}
	s.cache.Put(rec)
	if s.onHashed != nil {
		s.onHashed(rec)
	}
	return rec, nil
}

// sendError sends an error to the errors channel if it's not nil.
func (s *Scheduler) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}
