package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dupehound/dupehound/internal/cache"
	"github.com/dupehound/dupehound/internal/engine"
	"github.com/dupehound/dupehound/internal/progress"
	"github.com/dupehound/dupehound/internal/scheduler"
	"github.com/dupehound/dupehound/internal/store"
	"github.com/dupehound/dupehound/internal/types"
)

// findOptions holds CLI flags for the find command.
type findOptions struct {
	segmentStr string
	excludes   []string
	jobs       int
	cacheFile  string
	noProgress bool
	noMemLimit bool
}

// newFindCmd creates the find subcommand.
func newFindCmd() *cobra.Command {
	defaults := types.DefaultOptions()
	opts := &findOptions{
		segmentStr: humanize.IBytes(uint64(defaults.InitialSegmentLength)),
		jobs:       defaults.MaxJobs,
		cacheFile:  defaults.CachePath,
	}

	cmd := &cobra.Command{
		Use:   "find [paths...]",
		Short: "Find duplicate files and directories",
		Long: `Hashes the given trees with sampled content fingerprints, groups entries by
fingerprint and verifies candidate groups with progressively larger samples
until exact content equality is proven.

Hashes are cached in a persistent store, so repeated runs only read files
that changed. Directories count as duplicates when their contents match,
regardless of file names.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runFind(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.segmentStr, "segment", "s", opts.segmentStr, "Initial sample window size (e.g. 8K, 64K)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude (additive to .dupeignore files)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Maximum concurrently open files")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", opts.cacheFile, "Path to the persistent hash cache")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&opts.noMemLimit, "query-files", false, "Allow single-file cache queries when parent pre-caching misses")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// runFind executes the pipeline: prime hashes, group candidates, verify.
func runFind(paths []string, opts *findOptions) error {
	segment, err := parseSize(opts.segmentStr)
	if err != nil {
		return fmt.Errorf("invalid --segment: %w", err)
	}
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	engineOpts := types.DefaultOptions()
	engineOpts.InitialSegmentLength = segment
	engineOpts.MaxJobs = opts.jobs
	engineOpts.CachePath = opts.cacheFile
	engineOpts.RestrictFilesToMemCache = !opts.noMemLimit

	st, err := store.OpenBolt(engineOpts.CachePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = st.Close() }()

	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	showProgress := !opts.noProgress
	reporter := progress.NewReporter(progress.New(showProgress, -1))

	hashCache := cache.New(st, engineOpts, errors)
	sched := scheduler.New(hashCache, engineOpts.MaxJobs, opts.excludes, reporter, errors, nil)

	groups, err := engine.New(hashCache, sched, engineOpts).Run(cmdContext(), paths)
	reporter.Finish()
	if err != nil {
		return err
	}

	printGroups(groups)
	return nil
}

// printGroups renders duplicate groups in the order of each group's first path.
func printGroups(groups types.DuplicateGroups) {
	for i, g := range groups.Items() {
		if i > 0 {
			fmt.Println()
		}
		first := g.First()
		kind := "files"
		if first.IsDirectory {
			kind = "directories"
		}
		fmt.Printf("%d %s of %s each:\n", g.Len(), kind, humanize.IBytes(uint64(first.DataLength)))
		for _, rec := range g.Items() {
			fmt.Printf("  %s\n", rec.Path)
		}
	}
}
