// Package hasher computes sampled content fingerprints for files.
//
// For large files the hasher reads three fixed-size windows (head, middle,
// tail) instead of the whole content, bounding I/O at three segment lengths
// per file regardless of size. Small files are always hashed in full so a
// sampled fingerprint of a small file equals its exact content fingerprint.
package hasher

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dupehound/dupehound/internal/fingerprint"
)

// BlockSize is the read buffer size (64KB).
const BlockSize = 64 * 1024

// bufPool recycles read buffers across workers. Buffers are returned on all
// exit paths, including cancellation.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, BlockSize)
		return &buf
	},
}

// Result is the outcome of hashing one stream.
type Result struct {
	Hash fingerprint.Fingerprint

	// SegmentLength is the window size actually used: 0 when the whole
	// stream was hashed, either because that was requested or because the
	// stream was too small for three disjoint windows.
	SegmentLength int64

	// BytesRead is the number of content bytes fed to the digest.
	BytesRead int64
}

// PlannedBytes returns how many bytes Hash will read for a stream of the
// given size, before any I/O happens. Useful for progress accounting.
func PlannedBytes(size, segmentLength int64) int64 {
	if wholeHash(size, segmentLength) {
		return size
	}
	return 3 * segmentLength
}

// wholeHash reports whether sampling is skipped. Three windows of S bytes
// would touch or overlap once 3*S reaches the stream size, at which point a
// full hash is both cheaper and exact.
func wholeHash(size, segmentLength int64) bool {
	return segmentLength == 0 || 3*segmentLength >= size
}

// Hash fingerprints r, which must deliver exactly size bytes and support
// seeking. A segmentLength of 0 requests a whole-content hash; otherwise
// three windows of segmentLength bytes are hashed in head, middle, tail
// order. The window order is fixed: two streams differing only in the middle
// must not collide.
//
// report, when non-nil, is called with the byte count of each completed read
// so parallel workers can feed a shared progress reporter.
func Hash(ctx context.Context, r io.ReadSeeker, size, segmentLength int64, report func(int64)) (Result, error) {
	digest := fingerprint.New()

	if wholeHash(size, segmentLength) {
		n, err := hashN(ctx, digest, r, size, report)
		if err != nil {
			return Result{}, err
		}
		return Result{Hash: fingerprint.Sum(digest), SegmentLength: 0, BytesRead: n}, nil
	}

	// Head, middle (centre-aligned), tail. Disjoint by the wholeHash guard.
	offsets := []int64{0, size/2 - segmentLength/2, size - segmentLength}
	var read int64
	for _, off := range offsets {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return Result{}, fmt.Errorf("seek to %d: %w", off, err)
		}
		n, err := hashN(ctx, digest, r, segmentLength, report)
		read += n
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Hash: fingerprint.Sum(digest), SegmentLength: segmentLength, BytesRead: read}, nil
}

// hashN feeds exactly n bytes from r into digest in block-sized reads,
// checking for cancellation between blocks.
func hashN(ctx context.Context, digest io.Writer, r io.Reader, n int64, report func(int64)) (int64, error) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	var read int64
	for read < n {
		if err := ctx.Err(); err != nil {
			return read, err
		}
		want := min(n-read, int64(len(buf)))
		m, err := io.ReadFull(r, buf[:want])
		read += int64(m)
		if m > 0 {
			_, _ = digest.Write(buf[:m])
			if report != nil {
				report(int64(m))
			}
		}
		if err != nil {
			return read, fmt.Errorf("read at %d of %d: %w", read, n, err)
		}
	}
	return read, nil
}
