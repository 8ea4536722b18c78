package conv

import (
	"testing"

	"github.com/cwbudde/algo-convolve/internal/testutil"
)

func TestInputHistoryRead(t *testing.T) {
	h := newInputHistory(4, 4)
	for n := range uint64(5) {
		h.write(n, []float64{float64(n), 0, 0, 0})
	}

	dst := make([]float64, 4)
	tests := []struct {
		name  string
		block uint64
		floor uint64
		ok    bool
	}{
		{"latest", 4, 0, true},
		{"oldest kept", 3, 0, true},
		{"too old", 2, 0, false},
		{"not written", 5, 0, false},
		{"below floor", 4, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.floor.Store(tt.floor)
			dst[0] = -1

			if ok := h.read(tt.block, dst); ok != tt.ok {
				t.Fatalf("read(%d) = %v, want %v", tt.block, ok, tt.ok)
			}
			want := []float64{0, 0, 0, 0}
			if tt.ok {
				want[0] = float64(tt.block)
			}
			testutil.RequireSliceNearlyEqual(t, dst, want, 0)
		})
	}
}

func TestPrimeStart(t *testing.T) {
	tests := []struct {
		name      string
		blockSize int
		length    int
		written   uint64
	}{
		{"empty", 16, 0, 100},
		{"head only", 16, 40, 100},
		{"early", 16, 5000, 3},
		{"long", 8, 400, 1000},
		{"odd block", 3, 700, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := PlanLayout(tt.blockSize, tt.length, DefaultMaxPartition)
			if err != nil {
				t.Fatal(err)
			}

			start := primeStart(tt.written, l)
			if start > tt.written {
				t.Fatalf("start %d after written %d", start, tt.written)
			}
			if start%uint64(l.maxRatio()) != 0 {
				t.Fatalf("start %d not aligned to ratio %d", start, l.maxRatio())
			}
			if start > 0 && tt.written-start < uint64(ceilDiv(tt.length, tt.blockSize)) {
				t.Fatalf("start %d leaves %d blocks, impulse spans %d",
					start, tt.written-start, ceilDiv(tt.length, tt.blockSize))
			}
		})
	}
}
