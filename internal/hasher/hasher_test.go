package hasher

import (
	"bytes"
	"context"
	"testing"

	"github.com/dupehound/dupehound/internal/fingerprint"
)

// pattern builds deterministic pseudo-content of the given length.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 31)
	}
	return buf
}

func hashBytes(t *testing.T, data []byte, segmentLength int64) Result {
	t.Helper()
	res, err := Hash(context.Background(), bytes.NewReader(data), int64(len(data)), segmentLength, nil)
	if err != nil {
		t.Fatalf("Hash() failed: %v", err)
	}
	return res
}

func TestWholeHashMatchesOfBytes(t *testing.T) {
	data := pattern(200_000)
	res := hashBytes(t, data, 0)

	if res.Hash != fingerprint.OfBytes(data) {
		t.Error("whole hash differs from one-shot fingerprint")
	}
	if res.SegmentLength != 0 {
		t.Errorf("SegmentLength = %d, want 0", res.SegmentLength)
	}
	if res.BytesRead != int64(len(data)) {
		t.Errorf("BytesRead = %d, want %d", res.BytesRead, len(data))
	}
}

// TestShortCircuit checks that files too small for three disjoint windows
// are whole-hashed and recorded with a zero segment length.
func TestShortCircuit(t *testing.T) {
	const segment = 4096

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"tiny", 100},
		{"one segment", segment},
		{"two segments", 2 * segment},
		{"exactly three segments", 3 * segment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pattern(tt.size)
			res := hashBytes(t, data, segment)

			if res.SegmentLength != 0 {
				t.Errorf("SegmentLength = %d, want 0 (short-circuit)", res.SegmentLength)
			}
			if res.Hash != fingerprint.OfBytes(data) {
				t.Error("sampled hash of small file differs from whole-file hash")
			}
		})
	}
}

func TestSampledHashReadsThreeWindows(t *testing.T) {
	const segment = 4096
	data := pattern(100_000)

	res := hashBytes(t, data, segment)

	if res.SegmentLength != segment {
		t.Errorf("SegmentLength = %d, want %d", res.SegmentLength, segment)
	}
	if res.BytesRead != 3*segment {
		t.Errorf("BytesRead = %d, want %d", res.BytesRead, 3*segment)
	}

	// The digest must equal hashing the three windows directly, in
	// head/middle/tail order.
	size := int64(len(data))
	h := fingerprint.New()
	for _, off := range []int64{0, size/2 - segment/2, size - segment} {
		_, _ = h.Write(data[off : off+segment])
	}
	if res.Hash != fingerprint.Sum(h) {
		t.Error("sampled hash does not cover head/middle/tail windows in order")
	}
}

func TestSampledHashDeterministic(t *testing.T) {
	data := pattern(500_000)
	a := hashBytes(t, data, 8192)
	b := hashBytes(t, data, 8192)
	if a.Hash != b.Hash {
		t.Error("sampled hash not deterministic")
	}
}

// TestTailDivergence mirrors the case of two files identical except for
// their last byte: the tail window must catch it.
func TestTailDivergence(t *testing.T) {
	a := bytes.Repeat([]byte{0x00}, 100_000)
	b := bytes.Repeat([]byte{0x00}, 100_000)
	b[len(b)-1] = 0x01

	if hashBytes(t, a, 8192).Hash == hashBytes(t, b, 8192).Hash {
		t.Error("tail divergence not detected")
	}
}

// TestMiddleDivergence: a one-byte difference at the file's midpoint falls
// inside the centre-aligned window.
func TestMiddleDivergence(t *testing.T) {
	a := bytes.Repeat([]byte{0x00}, 1_000_000)
	b := bytes.Repeat([]byte{0x00}, 1_000_000)
	b[500_000] = 0x01

	if hashBytes(t, a, 8192).Hash == hashBytes(t, b, 8192).Hash {
		t.Error("middle divergence not detected")
	}
}

// TestUnsampledRegionIgnored: a difference outside all three windows must
// not affect the sampled fingerprint (that is the point of sampling).
func TestUnsampledRegionIgnored(t *testing.T) {
	const segment = 4096
	a := pattern(1_000_000)
	b := pattern(1_000_000)
	b[segment+10] = ^b[segment+10] // just past the head window

	if hashBytes(t, a, segment).Hash != hashBytes(t, b, segment).Hash {
		t.Error("sampled hash depends on bytes outside the windows")
	}
}

func TestWindowOrderMatters(t *testing.T) {
	// Two contents whose head and tail windows are swapped must not collide.
	const segment = 4096
	const size = 100_000
	a := make([]byte, size)
	b := make([]byte, size)
	for i := 0; i < segment; i++ {
		a[i] = 1
		b[size-segment+i] = 1
	}

	if hashBytes(t, a, segment).Hash == hashBytes(t, b, segment).Hash {
		t.Error("head and tail windows are interchangeable")
	}
}

func TestPlannedBytes(t *testing.T) {
	tests := []struct {
		size    int64
		segment int64
		want    int64
	}{
		{100, 0, 100},
		{100, 4096, 100},
		{3 * 4096, 4096, 3 * 4096},
		{1_000_000, 4096, 3 * 4096},
	}
	for _, tt := range tests {
		if got := PlannedBytes(tt.size, tt.segment); got != tt.want {
			t.Errorf("PlannedBytes(%d, %d) = %d, want %d", tt.size, tt.segment, got, tt.want)
		}
	}
}

func TestReportCallback(t *testing.T) {
	data := pattern(1_000_000)
	var reported int64
	_, err := Hash(context.Background(), bytes.NewReader(data), int64(len(data)), 8192, func(n int64) {
		reported += n
	})
	if err != nil {
		t.Fatalf("Hash() failed: %v", err)
	}
	if reported != 3*8192 {
		t.Errorf("reported %d bytes, want %d", reported, 3*8192)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := pattern(1_000_000)
	if _, err := Hash(ctx, bytes.NewReader(data), int64(len(data)), 8192, nil); err == nil {
		t.Error("Hash() succeeded under cancelled context")
	}
}

func TestTruncatedStream(t *testing.T) {
	// Claimed size exceeds actual content: the read error must surface.
	data := pattern(1000)
	if _, err := Hash(context.Background(), bytes.NewReader(data), 2000, 0, nil); err == nil {
		t.Error("Hash() ignored a short read")
	}
}
