//go:build unix

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dupehound/dupehound/internal/cache"
	"github.com/dupehound/dupehound/internal/progress"
	"github.com/dupehound/dupehound/internal/scheduler"
	"github.com/dupehound/dupehound/internal/store"
	"github.com/dupehound/dupehound/internal/treefs"
	"github.com/dupehound/dupehound/internal/types"
)

// pipeline wires a bolt-backed cache, scheduler and engine for one test.
type pipeline struct {
	engine   *Engine
	reporter *progress.Reporter
	st       *store.BoltStore
	closed   bool
}

// close releases the bolt file lock so a later pipeline can reopen the
// same cache file.
func (p *pipeline) close() {
	if !p.closed {
		p.closed = true
		_ = p.st.Close()
	}
}

func newPipeline(t *testing.T, cachePath string) *pipeline {
	t.Helper()
	st, err := store.OpenBolt(cachePath)
	if err != nil {
		t.Fatal(err)
	}

	opts := types.DefaultOptions()
	opts.MaxJobs = 8
	rep := progress.NewReporter(nil)
	c := cache.New(st, opts, nil)
	sched := scheduler.New(c, opts.MaxJobs, nil, rep, nil, nil)
	p := &pipeline{
		engine:   New(c, sched, opts),
		reporter: rep,
		st:       st,
	}
	t.Cleanup(p.close)
	return p
}

func run(t *testing.T, root string) types.DuplicateGroups {
	t.Helper()
	p := newPipeline(t, filepath.Join(t.TempDir(), "Cache.db"))
	groups, err := p.engine.Run(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return groups
}

// groupPaths renders groups as base-name sets for assertions.
func groupPaths(groups types.DuplicateGroups) [][]string {
	var out [][]string
	for _, g := range groups.Items() {
		var paths []string
		for _, rec := range g.Items() {
			paths = append(paths, filepath.Base(rec.Path))
		}
		out = append(out, paths)
	}
	return out
}

func findGroup(groups types.DuplicateGroups, base string) []string {
	for _, g := range groupPaths(groups) {
		for _, p := range g {
			if p == base {
				return g
			}
		}
	}
	return nil
}

// TestIdenticalSmallFiles: two identical files survive every round (S1).
func TestIdenticalSmallFiles(t *testing.T) {
	root := treefs.Sow(t, []treefs.File{
		{Path: "a.bin", Pattern: 0x00, Size: 10_000},
		{Path: "b.bin", Pattern: 0x00, Size: 10_000},
	})

	groups := run(t, root)
	g := findGroup(groups, "a.bin")
	if len(g) != 2 {
		t.Fatalf("groups = %v, want one pair {a.bin b.bin}", groupPaths(groups))
	}
}

// TestTailDifference: files differing only in the last byte never enter the
// candidate set — the first round's tail window catches them (S2).
func TestTailDifference(t *testing.T) {
	b := treefs.Fill(0x00, 100_000)
	b[len(b)-1] = 0x01
	root := treefs.Sow(t, []treefs.File{
		{Path: "a.bin", Pattern: 0x00, Size: 100_000},
		{Path: "b.bin", Content: b},
	})

	groups := run(t, root)
	if findGroup(groups, "a.bin") != nil {
		t.Errorf("groups = %v, want none", groupPaths(groups))
	}
}

// TestMiddleDifference: a single divergent byte at the centre falls inside
// the centre-aligned window of round one (S3).
func TestMiddleDifference(t *testing.T) {
	b := treefs.Fill(0x00, 1_000_000)
	b[500_000] = 0x01
	root := treefs.Sow(t, []treefs.File{
		{Path: "a.bin", Pattern: 0x00, Size: 1_000_000},
		{Path: "b.bin", Content: b},
	})

	groups := run(t, root)
	if findGroup(groups, "a.bin") != nil {
		t.Errorf("groups = %v, want none", groupPaths(groups))
	}
}

// TestUnsampledDifferenceEliminated: a divergence that no sampled window
// covers survives early rounds but dies in the whole-file round; the output
// must only ever contain exact duplicates.
func TestUnsampledDifferenceEliminated(t *testing.T) {
	b := treefs.Fill(0x00, 1_000_000)
	// Past the head window of every sampled round but before the middle.
	b[300_000] = 0x01
	root := treefs.Sow(t, []treefs.File{
		{Path: "a.bin", Pattern: 0x00, Size: 1_000_000},
		{Path: "b.bin", Content: b},
	})

	groups := run(t, root)
	if findGroup(groups, "a.bin") != nil {
		t.Errorf("groups = %v, want none (whole-file round must catch this)", groupPaths(groups))
	}
}

// TestDuplicateDirectories: directories whose children share content are
// duplicates themselves (S4).
func TestDuplicateDirectories(t *testing.T) {
	root := treefs.Sow(t, []treefs.File{
		{Path: "d1/x.bin", Pattern: 0x01, Size: 50_000},
		{Path: "d1/y.bin", Pattern: 0x02, Size: 60_000},
		{Path: "d2/x2.bin", Pattern: 0x01, Size: 50_000},
		{Path: "d2/y2.bin", Pattern: 0x02, Size: 60_000},
	})

	groups := run(t, root)

	if g := findGroup(groups, "d1"); len(g) != 2 {
		t.Errorf("directory group = %v, want {d1 d2}; all: %v", g, groupPaths(groups))
	}
	if g := findGroup(groups, "x.bin"); len(g) != 2 {
		t.Errorf("x group = %v, want {x.bin x2.bin}", g)
	}
	if g := findGroup(groups, "y.bin"); len(g) != 2 {
		t.Errorf("y group = %v, want {y.bin y2.bin}", g)
	}
}

// TestRepeatRunIsStable: a second run over an unchanged tree produces the
// same groups and reads no file content (S5).
func TestRepeatRunIsStable(t *testing.T) {
	root := treefs.Sow(t, []treefs.File{
		{Path: "a.bin", Pattern: 0x00, Size: 100_000},
		{Path: "b.bin", Pattern: 0x00, Size: 100_000},
		{Path: "c.bin", Pattern: 0x01, Size: 100_000},
	})
	cachePath := filepath.Join(t.TempDir(), "Cache.db")

	p1 := newPipeline(t, cachePath)
	first, err := p1.engine.Run(context.Background(), []string{root})
	if err != nil {
		t.Fatal(err)
	}
	p1.close()

	p2 := newPipeline(t, cachePath)
	second, err := p2.engine.Run(context.Background(), []string{root})
	if err != nil {
		t.Fatal(err)
	}

	if p2.reporter.Read() != 0 {
		t.Errorf("second run read %d bytes, want 0", p2.reporter.Read())
	}

	got, want := groupPaths(second), groupPaths(first)
	if len(got) != len(want) {
		t.Fatalf("second run groups = %v, first = %v", got, want)
	}
	for i := range got {
		if len(got[i]) != len(want[i]) {
			t.Errorf("group %d: %v != %v", i, got[i], want[i])
		}
		for j := range got[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("group %d: %v != %v", i, got[i], want[i])
			}
		}
	}
}

// TestUnreadableFileAppearsInNoGroup: an unreadable file neither breaks the
// run nor shows up as a duplicate (S6).
func TestUnreadableFileAppearsInNoGroup(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	root := treefs.Sow(t, []treefs.File{
		{Path: "d/a.bin", Pattern: 0x00, Size: 50_000},
		{Path: "d/b.bin", Pattern: 0x00, Size: 50_000},
		{Path: "d/secret.bin", Pattern: 0x00, Size: 50_000},
	})
	secret := filepath.Join(root, "d", "secret.bin")
	if err := os.Chmod(secret, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(secret, 0o644) })

	groups := run(t, root)

	g := findGroup(groups, "a.bin")
	if len(g) != 2 {
		t.Fatalf("groups = %v, want pair {a.bin b.bin}", groupPaths(groups))
	}
	if findGroup(groups, "secret.bin") != nil {
		t.Error("unreadable file appeared in a group")
	}
}

// TestRefinement: three files sharing a sampled prefix split into exactly
// the groups their full content dictates; no false merges appear in later
// rounds.
func TestRefinement(t *testing.T) {
	common := treefs.Fill(0x07, 1_000_000)
	variant := append(treefs.Fill(0x07, 1_000_000)[:400_000:400_000], treefs.Fill(0x08, 600_000)...)
	variant2 := append([]byte(nil), variant...)

	root := treefs.Sow(t, []treefs.File{
		{Path: "orig.bin", Content: common},
		{Path: "var1.bin", Content: variant},
		{Path: "var2.bin", Content: variant2},
	})

	groups := run(t, root)

	if g := findGroup(groups, "var1.bin"); len(g) != 2 {
		t.Errorf("variant group = %v, want {var1.bin var2.bin}", g)
	}
	if findGroup(groups, "orig.bin") != nil {
		t.Error("orig.bin grouped with variants despite differing content")
	}
}

// TestDifferentLengthsNeverGroup: regrouping keys on data length, so a file
// that is a strict prefix of another never survives verification.
func TestDifferentLengthsNeverGroup(t *testing.T) {
	root := treefs.Sow(t, []treefs.File{
		{Path: "long.bin", Pattern: 0x00, Size: 120_000},
		{Path: "longer.bin", Pattern: 0x00, Size: 130_000},
	})

	groups := run(t, root)
	if findGroup(groups, "long.bin") != nil {
		t.Errorf("groups = %v, want none", groupPaths(groups))
	}
}

func TestEmptyTree(t *testing.T) {
	root := treefs.Sow(t, nil)
	groups := run(t, root)
	if groups.Len() != 0 {
		t.Errorf("groups = %v, want none", groupPaths(groups))
	}
}
