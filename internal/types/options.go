package types

// Options configures the hashing and deduplication engine.
type Options struct {
	// MaxJobs bounds the number of concurrently open filesystem entries.
	MaxJobs int

	// InitialSegmentLength is the sampling window size of the first
	// verification round.
	InitialSegmentLength int64

	// CachePath is the persistent store location. The commands always open
	// it; an empty path is not treated as "no persistence".
	CachePath string

	// PrecacheDirectories bulk-loads a directory's subtree rows into the
	// in-memory tier when the directory itself is looked up.
	PrecacheDirectories bool

	// RestrictFilesToMemCache serves file lookups only through pre-cached
	// parent directories; single-file persistent queries are disabled.
	RestrictFilesToMemCache bool
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		MaxJobs:                 32,
		InitialSegmentLength:    8192,
		CachePath:               "Cache.db",
		PrecacheDirectories:     true,
		RestrictFilesToMemCache: true,
	}
}
