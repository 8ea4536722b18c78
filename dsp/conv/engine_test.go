package conv

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cwbudde/algo-convolve/internal/testutil"
)

func newPreparedEngine(t *testing.T, blockSize int, ir []float64, opts ...EngineOption) *Engine {
	t.Helper()

	e := NewEngine(opts...)
	if err := e.Prepare(blockSize, 48000); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ir != nil {
		if err := e.SetImpulseResponse(ir); err != nil {
			t.Fatalf("SetImpulseResponse: %v", err)
		}
	}
	return e
}

// reference returns the first n samples of the linear convolution.
func reference(t *testing.T, signal, ir []float64, n int) []float64 {
	t.Helper()

	full, err := Direct(signal, ir)
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	out := make([]float64, n)
	copy(out, full)
	return out
}

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !w.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("worker did not drain")
		}
		time.Sleep(20 * time.Microsecond)
	}
}

func TestEngineIdentityImpulse(t *testing.T) {
	e := newPreparedEngine(t, 64, []float64{1})
	signal := testutil.DeterministicNoise(1, 1, 640)

	out, err := testutil.RenderBlocks(signal, 64, e.Process)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, out, signal, 1e-12)
}

func TestEngineShortImpulse(t *testing.T) {
	e := newPreparedEngine(t, 4, []float64{1, 0.5})

	out := make([]float64, 4)
	if err := e.Process([]float64{1, 0, 0, 0}, out); err != nil {
		t.Fatalf("Process: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, out, []float64{1, 0.5, 0, 0}, 1e-12)
}

func TestEngineSilentWithoutImpulse(t *testing.T) {
	for _, ir := range [][]float64{nil, {}} {
		e := newPreparedEngine(t, 32, ir)
		out := testutil.DeterministicNoise(2, 1, 32)
		if err := e.Process(testutil.DeterministicNoise(3, 1, 32), out); err != nil {
			t.Fatalf("Process: %v", err)
		}
		testutil.RequireSilent(t, out)
	}
}

func TestEngineMatchesDirect(t *testing.T) {
	tests := []struct {
		name         string
		blockSize    int
		irLen        int
		maxPartition int
	}{
		{"head only", 64, 200, DefaultMaxPartition},
		{"odd block", 3, 400, DefaultMaxPartition},
		{"small block long ir", 32, 5000, DefaultMaxPartition},
		{"capped tail", 64, 6000, 256},
		{"large block", 512, 12000, DefaultMaxPartition},
		{"tail disabled", 16, 700, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ir := testutil.DecayingNoise(11, tt.irLen)
			signal := testutil.DeterministicNoise(5, 1, 2*tt.irLen)
			e := newPreparedEngine(t, tt.blockSize, ir, WithEngineMaxPartition(tt.maxPartition))

			out, err := testutil.RenderBlocks(signal, tt.blockSize, e.Process)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}

			testutil.RequireFinite(t, out)
			testutil.RequireRelativeError(t, out, reference(t, signal, ir, len(out)), 1e-9)
			if e.Missed() != 0 {
				t.Fatalf("inline engine missed %d deadlines", e.Missed())
			}
		})
	}
}

func TestEngineInPlace(t *testing.T) {
	ir := testutil.DecayingNoise(4, 900)
	signal := testutil.DeterministicNoise(6, 1, 2048)
	e := newPreparedEngine(t, 64, ir)

	out, err := testutil.RenderBlocks(signal, 64, func(in, out []float64) error {
		copy(out, in)
		return e.Process(out, out)
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireRelativeError(t, out, reference(t, signal, ir, len(out)), 1e-9)
}

func TestEngineWorkerMatchesInline(t *testing.T) {
	w := NewWorker()
	w.Start(context.Background())
	defer w.Close()

	ir := testutil.DecayingNoise(8, 4000)
	signal := testutil.DeterministicNoise(9, 1, 12000)

	async := newPreparedEngine(t, 64, ir, WithWorker(w))
	got, err := testutil.RenderBlocks(signal, 64, func(in, out []float64) error {
		err := async.Process(in, out)
		waitIdle(t, w)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	inline := newPreparedEngine(t, 64, ir)
	want, err := testutil.RenderBlocks(signal, 64, inline.Process)
	if err != nil {
		t.Fatal(err)
	}

	testutil.RequireSliceNearlyEqual(t, got, want, 1e-12)
	if async.Missed() != 0 {
		t.Fatalf("Missed = %d, want 0", async.Missed())
	}
}

func TestEngineStalledWorkerKeepsHead(t *testing.T) {
	// Never started: every tail chunk misses its deadline.
	w := NewWorker()

	ir := testutil.DecayingNoise(12, 3000)
	signal := testutil.DeterministicNoise(13, 1, 6000)
	e := newPreparedEngine(t, 64, ir, WithWorker(w))

	out, err := testutil.RenderBlocks(signal, 64, e.Process)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	head := ir[:e.Layout().Head.End()]
	testutil.RequireRelativeError(t, out, reference(t, signal, head, len(out)), 1e-9)
	if e.Missed() == 0 {
		t.Fatal("expected missed deadlines")
	}
	if w.Idle() {
		t.Fatal("stalled worker reports idle")
	}
}

func TestEngineSwapKeepsHistory(t *testing.T) {
	const (
		blockSize = 32
		blocks    = 60
		swapAt    = 20
	)

	ir := testutil.DecayingNoise(11, 600)
	tests := []struct {
		name   string
		next   []float64
		worker bool
	}{
		{"same samples", slices.Clone(ir), false},
		{"longer impulse", testutil.DecayingNoise(13, 1500), false},
		{"shorter impulse", testutil.DecayingNoise(17, 40), false},
		{"worker", testutil.DecayingNoise(19, 1500), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []EngineOption
			var w *Worker
			if tt.worker {
				w = NewWorker()
				w.Start(context.Background())
				defer w.Close()
				opts = append(opts, WithWorker(w))
			}

			e := newPreparedEngine(t, blockSize, ir, opts...)
			signal := testutil.DeterministicNoise(3, 1, blocks*blockSize)
			got := make([]float64, len(signal))

			for b := range blocks {
				if b == swapAt {
					if err := e.SetImpulseResponse(tt.next); err != nil {
						t.Fatal(err)
					}
				}
				lo, hi := b*blockSize, (b+1)*blockSize
				if err := e.Process(signal[lo:hi], got[lo:hi]); err != nil {
					t.Fatal(err)
				}
				if w != nil {
					waitIdle(t, w)
				}
			}

			split := swapAt * blockSize
			before := reference(t, signal, ir, len(signal))
			after := reference(t, signal, tt.next, len(signal))
			testutil.RequireRelativeError(t, got[:split], before[:split], 1e-9)
			testutil.RequireRelativeError(t, got[split:], after[split:], 1e-9)
			if e.Missed() != 0 {
				t.Fatalf("Missed = %d, want 0", e.Missed())
			}
		})
	}
}

func TestEngineLastWriterWins(t *testing.T) {
	e := newPreparedEngine(t, 16, nil)

	for _, gain := range []float64{0.25, 0.5, 0.75} {
		if err := e.SetImpulseResponse([]float64{gain}); err != nil {
			t.Fatal(err)
		}
	}

	in := testutil.DeterministicNoise(21, 1, 16)
	out := make([]float64, 16)
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		in[i] *= 0.75
	}
	testutil.RequireSliceNearlyEqual(t, out, in, 1e-12)
}

func TestEngineImpulseBeforePrepare(t *testing.T) {
	e := NewEngine()
	if err := e.SetImpulseResponse([]float64{0, 1}); err != nil {
		t.Fatal(err)
	}
	if e.Kernel() != nil {
		t.Fatal("kernel built before Prepare")
	}

	for _, blockSize := range []int{4, 8} {
		if err := e.Prepare(blockSize, 44100); err != nil {
			t.Fatalf("Prepare(%d): %v", blockSize, err)
		}
		if got := e.Kernel().BlockSize(); got != blockSize {
			t.Fatalf("kernel block size = %d, want %d", got, blockSize)
		}

		out := make([]float64, blockSize)
		if err := e.Process(testutil.Impulse(blockSize, 0), out); err != nil {
			t.Fatal(err)
		}
		testutil.RequireSliceNearlyEqual(t, out, testutil.Impulse(blockSize, 1), 1e-12)
	}
}

func TestEngineReset(t *testing.T) {
	e := newPreparedEngine(t, 4, []float64{0, 0, 0, 0, 0, 1})

	out := make([]float64, 4)
	if err := e.Process([]float64{1, 1, 1, 1}, out); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(make([]float64, 4), out); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSilent(t, out)
}

func TestEngineErrors(t *testing.T) {
	e := NewEngine()

	if err := e.Process(make([]float64, 4), make([]float64, 4)); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("unprepared Process: err = %v, want ErrNotPrepared", err)
	}
	if err := e.Prepare(0, 48000); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Prepare(0): err = %v, want ErrConfiguration", err)
	}
	if err := e.Prepare(4, 0); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Prepare(rate 0): err = %v, want ErrConfiguration", err)
	}
	if err := e.Prepare(4, 48000); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(make([]float64, 3), make([]float64, 4)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("short input: err = %v, want ErrConfiguration", err)
	}

	k, err := NewKernel([]float64{1}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetKernel(k); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("mismatched kernel: err = %v, want ErrConfiguration", err)
	}

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(make([]float64, 4), make([]float64, 4)); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("closed Process: err = %v, want ErrNotPrepared", err)
	}
}

func TestEngineCloseRetiresWorkerStages(t *testing.T) {
	w := NewWorker()
	e := newPreparedEngine(t, 32, testutil.DecayingNoise(3, 2000), WithWorker(w))

	if n := len(*w.stages.Load()); n == 0 {
		t.Fatal("no tail stages registered")
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(*w.stages.Load()); n != 0 {
		t.Fatalf("%d stages left after Close", n)
	}
}

func BenchmarkEngineProcess(b *testing.B) {
	w := NewWorker()
	w.Start(context.Background())
	defer w.Close()

	e := NewEngine(WithWorker(w))
	if err := e.Prepare(256, 48000); err != nil {
		b.Fatal(err)
	}
	if err := e.SetImpulseResponse(testutil.DecayingNoise(1, 96000)); err != nil {
		b.Fatal(err)
	}

	in := testutil.DeterministicNoise(2, 1, 256)
	out := make([]float64, 256)

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		_ = e.Process(in, out)
	}
}
