package testutil

import (
	"errors"
	"math"
	"testing"
)

func TestDeterministicNoise(t *testing.T) {
	a := DeterministicNoise(42, 1.0, 64)
	b := DeterministicNoise(42, 1.0, 64)
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("noise not deterministic at index %d", i)
		}
	}
}

func TestDecayingNoiseEnvelope(t *testing.T) {
	ir := DecayingNoise(7, 4800)
	RequireFinite(t, ir)

	head := PeakAbs(ir[:480])
	tail := PeakAbs(ir[len(ir)-480:])
	if tail >= head*0.01 {
		t.Fatalf("tail peak %v not 40 dB below head peak %v", tail, head)
	}
	if math.Abs(ir[0]) > 1 {
		t.Fatalf("ir[0] = %v out of range", ir[0])
	}
}

func TestImpulse(t *testing.T) {
	imp := Impulse(8, 3)
	for i, v := range imp {
		want := 0.0
		if i == 3 {
			want = 1
		}
		if v != want {
			t.Fatalf("imp[%d] = %v, want %v", i, v, want)
		}
	}
	RequireSilent(t, Impulse(4, 10))
}

func TestRenderBlocksPadsLastBlock(t *testing.T) {
	calls := 0
	out, err := RenderBlocks([]float64{1, 2, 3, 4, 5}, 2, func(in, out []float64) error {
		calls++
		copy(out, in)
		return nil
	})
	if err != nil {
		t.Fatalf("RenderBlocks: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	RequireSliceNearlyEqual(t, out, []float64{1, 2, 3, 4, 5, 0}, 0)
}

func TestRenderBlocksStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	out, err := RenderBlocks(make([]float64, 8), 2, func(in, out []float64) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(out))
	}
}
