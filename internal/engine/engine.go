// Package engine finds duplicate files and directories by candidate grouping
// and multi-round verification.
//
// # Processing Pipeline
//
//	Run(roots) starts
//	    │
//	    ├──► prime: hash every root at the initial segment length
//	    │         (the scheduler persists records as it goes)
//	    │
//	    ├──► phase 1: group persisted records by fingerprint,
//	    │             keep groups of two or more
//	    │
//	    └──► phase 2: for each step in [2, 4, 8, 16, 32, 64, whole]:
//	              ├──► re-hash every member at step × initial segment
//	              ├──► regroup by (fingerprint, data length)
//	              └──► discard singletons
//
// Each round is a strict refinement: a group surviving round k matched three
// sampled windows of k times the initial segment, and the final whole-hash
// round proves exact content equality. Different files usually diverge in the
// head or tail window of the first round, so most groups die cheaply.
//
// Directories participate like files. Their cache rows are keyed by the
// requested segment length, so a directory re-queried at a larger segment
// legitimately produces a new aggregate of its children's new fingerprints.
package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/dupehound/dupehound/internal/cache"
	"github.com/dupehound/dupehound/internal/fingerprint"
	"github.com/dupehound/dupehound/internal/scheduler"
	"github.com/dupehound/dupehound/internal/types"
)

// verificationSteps are the sample-size multipliers of successive rounds;
// the trailing 0 is the whole-file round.
var verificationSteps = []int64{2, 4, 8, 16, 32, 64, 0}

// Engine runs the duplicate-detection pipeline.
//
// The engine is designed for single-use: create with New(), call Run() once.
type Engine struct {
	cache *cache.Cache
	sched *scheduler.Scheduler
	opts  types.Options
}

// New creates an Engine over a shared cache and scheduler.
func New(hashCache *cache.Cache, sched *scheduler.Scheduler, opts types.Options) *Engine {
	return &Engine{cache: hashCache, sched: sched, opts: opts}
}

// Run hashes the given roots and returns the groups of entries with
// identical content. Only whole-content equality survives to the output.
func (e *Engine) Run(ctx context.Context, roots []string) (types.DuplicateGroups, error) {
	canonical := make([]string, 0, len(roots))
	for _, root := range roots {
		rec, err := e.sched.Hash(ctx, root, e.opts.InitialSegmentLength)
		if err != nil {
			return types.NewDuplicateGroups(nil), fmt.Errorf("hash %s: %w", root, err)
		}
		canonical = append(canonical, rec.Path)
	}

	groups, err := e.candidates(canonical)
	if err != nil {
		return types.NewDuplicateGroups(nil), err
	}

	for _, step := range verificationSteps {
		if len(groups) == 0 {
			break
		}
		groups, err = e.verifyRound(ctx, groups, step*e.opts.InitialSegmentLength)
		if err != nil {
			return types.NewDuplicateGroups(nil), err
		}
	}

	out := make([]types.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, types.NewDuplicateGroup(g))
	}
	return types.NewDuplicateGroups(out), nil
}

// candidates groups the persisted records under the given prefixes by
// fingerprint, keeping groups of two or more distinct paths.
func (e *Engine) candidates(prefixes []string) ([][]*types.HashRecord, error) {
	byHash := make(map[fingerprint.Fingerprint]map[string]*types.HashRecord)
	for _, prefix := range prefixes {
		groups, err := e.cache.GroupByFingerprint(e.opts.InitialSegmentLength, prefix)
		if err != nil {
			return nil, fmt.Errorf("group candidates: %w", err)
		}
		for _, g := range groups {
			m := byHash[g.Hash]
			if m == nil {
				m = make(map[string]*types.HashRecord)
				byHash[g.Hash] = m
			}
			for _, rec := range g.Records {
				// Roots may overlap; keep one record per path.
				m[rec.Path] = rec
			}
		}
	}

	var out [][]*types.HashRecord
	for _, m := range byHash {
		if len(m) < 2 {
			continue
		}
		recs := make([]*types.HashRecord, 0, len(m))
		for _, rec := range m {
			recs = append(recs, rec)
		}
		slices.SortFunc(recs, func(a, b *types.HashRecord) int {
			return strings.Compare(a.Path, b.Path)
		})
		out = append(out, recs)
	}
	slices.SortFunc(out, func(a, b []*types.HashRecord) int {
		return strings.Compare(a[0].Path, b[0].Path)
	})
	return out, nil
}

// verifyRound re-hashes every group member at the given segment length and
// regroups by (fingerprint, data length). Members that can no longer be
// hashed (deleted or unreadable since grouping) drop out of their group.
func (e *Engine) verifyRound(ctx context.Context, groups [][]*types.HashRecord, segmentLength int64) ([][]*types.HashRecord, error) {
	var flat []*types.HashRecord
	for _, g := range groups {
		flat = append(flat, g...)
	}

	// The scheduler's cache makes repeated hashes of the same entry free, so
	// fan-out here costs only the genuinely new reads.
	rehashed := make([]*types.HashRecord, len(flat))
	p := pool.New().WithMaxGoroutines(e.opts.MaxJobs)
	for i, rec := range flat {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			nr, err := e.sched.Hash(ctx, rec.Path, segmentLength)
			if err == nil {
				rehashed[i] = nr
			}
		})
	}
	p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type groupKey struct {
		hash   fingerprint.Fingerprint
		length int64
	}
	byKey := make(map[groupKey][]*types.HashRecord)
	var order []groupKey
	for _, rec := range rehashed {
		if rec == nil {
			continue
		}
		k := groupKey{hash: rec.Hash, length: rec.DataLength}
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], rec)
	}

	var out [][]*types.HashRecord
	for _, k := range order {
		if len(byKey[k]) >= 2 {
			out = append(out, byKey[k])
		}
	}
	return out, nil
}
