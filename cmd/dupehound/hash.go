package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dupehound/dupehound/internal/cache"
	"github.com/dupehound/dupehound/internal/progress"
	"github.com/dupehound/dupehound/internal/scheduler"
	"github.com/dupehound/dupehound/internal/store"
	"github.com/dupehound/dupehound/internal/types"
)

// hashOptions holds CLI flags for the hash command.
type hashOptions struct {
	segmentStr string
	jobs       int
	cacheFile  string
	noProgress bool
}

// newHashCmd creates the hash subcommand.
func newHashCmd() *cobra.Command {
	defaults := types.DefaultOptions()
	opts := &hashOptions{
		segmentStr: "0",
		jobs:       defaults.MaxJobs,
		cacheFile:  defaults.CachePath,
	}

	cmd := &cobra.Command{
		Use:   "hash [paths...]",
		Short: "Print content fingerprints for files or trees",
		Long: `Hashes each path and prints its fingerprint and covered size. Directories
get the aggregate fingerprint of their contents. The default segment size 0
hashes whole contents; pass --segment for sampled fingerprints.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runHash(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.segmentStr, "segment", "s", opts.segmentStr, "Sample window size (0 = whole content)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Maximum concurrently open files")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", opts.cacheFile, "Path to the persistent hash cache")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runHash(paths []string, opts *hashOptions) error {
	segment, err := parseSize(opts.segmentStr)
	if err != nil {
		return fmt.Errorf("invalid --segment: %w", err)
	}

	engineOpts := types.DefaultOptions()
	engineOpts.MaxJobs = opts.jobs
	engineOpts.CachePath = opts.cacheFile

	st, err := store.OpenBolt(engineOpts.CachePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = st.Close() }()

	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	reporter := progress.NewReporter(progress.New(!opts.noProgress, -1))
	hashCache := cache.New(st, engineOpts, errors)
	sched := scheduler.New(hashCache, engineOpts.MaxJobs, nil, reporter, errors, nil)

	ctx := cmdContext()
	for _, path := range paths {
		rec, err := sched.Hash(ctx, path, segment)
		if err != nil {
			reporter.Finish()
			return err
		}
		fmt.Printf("%s  %s (%s)\n", rec.Hash, rec.Path, humanize.IBytes(uint64(rec.DataLength)))
	}
	reporter.Finish()
	return nil
}
