package conv

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cwbudde/algo-convolve/internal/testutil"
)

func newGainKernels(t *testing.T, blockSize int, gains ...float64) []*Kernel {
	t.Helper()

	ks := make([]*Kernel, len(gains))
	for i, g := range gains {
		k, err := NewKernel([]float64{g}, blockSize)
		if err != nil {
			t.Fatal(err)
		}
		ks[i] = k
	}
	return ks
}

func repeat(k *Kernel, n int) []*Kernel {
	ks := make([]*Kernel, n)
	for i := range ks {
		ks[i] = k
	}
	return ks
}

func TestBankSwapIsAtomicAcrossChannels(t *testing.T) {
	const (
		channels  = 16
		blockSize = 16
		blocks    = 4000
	)

	b, err := NewBank(channels, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	gains := newGainKernels(t, blockSize, 1, 2)
	if err := b.SetKernels(context.Background(), repeat(gains[0], channels)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			if err := b.SetKernels(ctx, repeat(gains[(i+1)%2], channels)); err != nil && ctx.Err() == nil {
				t.Errorf("SetKernels: %v", err)
				return
			}
		}
	}()

	in := make([][]float64, channels)
	out := make([][]float64, channels)
	for c := range in {
		in[c] = make([]float64, blockSize)
		out[c] = make([]float64, blockSize)
	}

	seen := map[float64]int{}
	for n := range blocks {
		for c := range in {
			for i := range in[c] {
				in[c][i] = 1
			}
		}
		if err := b.Process(in, out); err != nil {
			t.Fatal(err)
		}

		v := math.Round(out[0][0])
		if v != 1 && v != 2 {
			t.Fatalf("block %d: sample %v, want 1 or 2", n, out[0][0])
		}
		for c := range out {
			for i, got := range out[c] {
				if math.Abs(got-v) > 1e-9 {
					t.Fatalf("block %d: channel %d sample %d = %v, block gain %v",
						n, c, i, got, v)
				}
			}
		}
		seen[v]++
	}

	cancel()
	wg.Wait()

	if seen[2] == 0 {
		t.Log("no swap landed during the run")
	}
}

func TestBankSwapMatchesDirectPerChannel(t *testing.T) {
	const (
		blockSize = 8
		blocks    = 120
		swapAt    = 70
	)

	first := []*Kernel{mustKernel(t, testutil.DecayingNoise(1, 300), blockSize), nil}
	irs := [][]float64{testutil.DecayingNoise(2, 500), testutil.DecayingNoise(3, 90)}
	second := []*Kernel{mustKernel(t, irs[0], blockSize), mustKernel(t, irs[1], blockSize)}

	b, err := NewBank(2, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.SetKernels(context.Background(), first); err != nil {
		t.Fatal(err)
	}

	signals := [][]float64{
		testutil.DeterministicNoise(4, 1, blocks*blockSize),
		testutil.DeterministicNoise(5, 1, blocks*blockSize),
	}
	got := [][]float64{make([]float64, blocks*blockSize), make([]float64, blocks*blockSize)}

	for n := range blocks {
		if n == swapAt {
			if err := b.SetKernels(context.Background(), second); err != nil {
				t.Fatal(err)
			}
		}
		lo, hi := n*blockSize, (n+1)*blockSize
		in := [][]float64{signals[0][lo:hi], signals[1][lo:hi]}
		out := [][]float64{got[0][lo:hi], got[1][lo:hi]}
		if err := b.Process(in, out); err != nil {
			t.Fatal(err)
		}
	}

	split := swapAt * blockSize
	testutil.RequireRelativeError(t, got[0][:split],
		reference(t, signals[0], first[0].Impulse(), split), 1e-9)
	testutil.RequireSilent(t, got[1][:split])

	for c := range 2 {
		want := reference(t, signals[c], irs[c], len(signals[c]))
		testutil.RequireRelativeError(t, got[c][split:], want[split:], 1e-9)
	}
}

func TestBankGrowsHistoryForLongerKernel(t *testing.T) {
	const blockSize = 8

	b, err := NewBank(1, blockSize, WithHistory(0))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	before := b.channels[0].hist.Load().capacity()
	if err := b.SetKernels(context.Background(), newGainKernels(t, blockSize, 1)); err != nil {
		t.Fatal(err)
	}

	ir := testutil.DecayingNoise(6, 400)
	long := mustKernel(t, ir, blockSize)
	signal := testutil.DeterministicNoise(7, 1, 300*blockSize)
	got := make([]float64, len(signal))

	const swapAt = 200
	for n := range 300 {
		if n == swapAt {
			if err := b.SetKernels(context.Background(), []*Kernel{long}); err != nil {
				t.Fatal(err)
			}
		}
		lo, hi := n*blockSize, (n+1)*blockSize
		if err := b.Process([][]float64{signal[lo:hi]}, [][]float64{got[lo:hi]}); err != nil {
			t.Fatal(err)
		}
	}

	split := swapAt * blockSize
	want := reference(t, signal, ir, len(signal))
	testutil.RequireRelativeError(t, got[split:], want[split:], 1e-9)

	if after := b.channels[0].hist.Load().capacity(); after <= before || after < reach(long.Layout()) {
		t.Fatalf("history capacity %d -> %d, kernel reaches %d blocks", before, after, reach(long.Layout()))
	}
}

func TestBankReset(t *testing.T) {
	b, err := NewBank(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	k := mustKernel(t, []float64{0, 0, 0, 0, 0, 1}, 4)
	if err := b.SetKernels(context.Background(), []*Kernel{k, k}); err != nil {
		t.Fatal(err)
	}

	out := [][]float64{make([]float64, 4), make([]float64, 4)}
	if err := b.Process([][]float64{{1, 1, 1, 1}, {1, 1, 1, 1}}, out); err != nil {
		t.Fatal(err)
	}
	if err := b.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := b.Process([][]float64{make([]float64, 4), make([]float64, 4)}, out); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSilent(t, out[0])
	testutil.RequireSilent(t, out[1])

	// A later swap must not resurrect the input recorded before Reset.
	if err := b.SetKernels(context.Background(), []*Kernel{k, k}); err != nil {
		t.Fatal(err)
	}
	if err := b.Process([][]float64{make([]float64, 4), make([]float64, 4)}, out); err != nil {
		t.Fatal(err)
	}
	testutil.RequireSilent(t, out[0])
	testutil.RequireSilent(t, out[1])
}

func TestBankErrors(t *testing.T) {
	if _, err := NewBank(0, 16); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("zero channels: err = %v", err)
	}
	if _, err := NewBank(2, 0); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("zero block size: err = %v", err)
	}

	b, err := NewBank(2, 16)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.SetKernels(context.Background(), newGainKernels(t, 16, 1)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("short kernel list: err = %v", err)
	}
	if err := b.SetKernels(context.Background(), newGainKernels(t, 8, 1, 1)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("block size mismatch: err = %v", err)
	}

	in := [][]float64{make([]float64, 16)}
	if err := b.Process(in, in); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("channel mismatch: err = %v", err)
	}
	in = [][]float64{make([]float64, 16), make([]float64, 15)}
	if err := b.Process(in, in); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("short block: err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.block = 500
	long := mustKernel(t, testutil.DecayingNoise(1, 2000), 16)
	b.channels[0].hist.Load().written.Store(500)
	if err := b.SetKernels(ctx, []*Kernel{long, long}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled priming: err = %v", err)
	}

	b.Close()
	if err := b.SetKernels(context.Background(), nil); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("closed: err = %v", err)
	}
}

func mustKernel(t *testing.T, ir []float64, blockSize int) *Kernel {
	t.Helper()

	k, err := NewKernel(ir, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	return k
}
