package conv

import (
	"context"
	"fmt"

	algofft "github.com/cwbudde/algo-fft"
)

// Kernel is an impulse response partitioned and transformed for a fixed
// block size. It is immutable after construction and may be shared by any
// number of engines, e.g. when a mono impulse is replicated across channels.
type Kernel struct {
	source       []float64
	layout       Layout
	maxPartition int

	head  [][]complex128   // one spectrum per head partition
	tails [][][]complex128 // [stage][partition]spectrum
}

// KernelOption configures kernel construction.
type KernelOption func(*kernelConfig)

type kernelConfig struct {
	maxPartition int
}

// WithMaxPartition caps the tail partition size in samples.
// Non-positive values are ignored.
func WithMaxPartition(n int) KernelOption {
	return func(cfg *kernelConfig) {
		if n > 0 {
			cfg.maxPartition = n
		}
	}
}

func applyKernelOptions(opts []KernelOption) kernelConfig {
	cfg := kernelConfig{maxPartition: DefaultMaxPartition}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// NewKernel partitions ir for processing in blocks of blockSize samples.
// The impulse slice is retained, not copied; callers must not modify it.
// An empty impulse yields a kernel that renders silence.
func NewKernel(ir []float64, blockSize int, opts ...KernelOption) (*Kernel, error) {
	return NewKernelContext(context.Background(), ir, blockSize, opts...)
}

// NewKernelContext is like NewKernel but stops between partitions once ctx
// is done, returning the context error.
func NewKernelContext(ctx context.Context, ir []float64, blockSize int, opts ...KernelOption) (*Kernel, error) {
	cfg := applyKernelOptions(opts)

	layout, err := PlanLayout(blockSize, len(ir), cfg.maxPartition)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		source:       ir,
		layout:       layout,
		maxPartition: cfg.maxPartition,
	}
	if len(ir) == 0 {
		return k, nil
	}

	k.head, err = transformSegment(ctx, ir, layout.Head)
	if err != nil {
		return nil, err
	}

	k.tails = make([][][]complex128, len(layout.Tail))
	for i, seg := range layout.Tail {
		k.tails[i], err = transformSegment(ctx, ir, seg)
		if err != nil {
			return nil, err
		}
	}

	return k, nil
}

// transformSegment computes the spectra of every partition in seg. Each
// partition sits at the start of a zero-padded frame of nextPowerOf2(2*P)
// samples, matching the overlap-save input window used by segmentConv.
func transformSegment(ctx context.Context, ir []float64, seg Segment) ([][]complex128, error) {
	fftSize := nextPowerOf2(2 * seg.PartitionSize)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan (size=%d): %w", fftSize, err)
	}

	frame := make([]complex128, fftSize)
	spectra := make([][]complex128, seg.Count)

	for j := range spectra {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		clear(frame)
		start := seg.Offset + j*seg.PartitionSize
		end := min(start+seg.PartitionSize, len(ir))
		for i := start; i < end; i++ {
			frame[i-start] = complex(ir[i], 0)
		}

		spectra[j] = make([]complex128, fftSize)
		if err := plan.Forward(spectra[j], frame); err != nil {
			return nil, fmt.Errorf("conv: partition FFT failed (offset=%d): %w", start, err)
		}
	}

	return spectra, nil
}

// Repartition builds a kernel from the same impulse for a new block size.
// It returns k itself when the block size already matches.
func (k *Kernel) Repartition(ctx context.Context, blockSize int) (*Kernel, error) {
	if k.layout.BlockSize == blockSize {
		return k, nil
	}
	return NewKernelContext(ctx, k.source, blockSize, WithMaxPartition(k.maxPartition))
}

// Layout returns the partition schedule.
func (k *Kernel) Layout() Layout {
	return k.layout
}

// BlockSize returns the block size the kernel was partitioned for.
func (k *Kernel) BlockSize() int {
	return k.layout.BlockSize
}

// Len returns the impulse length in samples.
func (k *Kernel) Len() int {
	return k.layout.Length
}

// Impulse returns the time-domain impulse the kernel was built from.
// The returned slice must not be modified.
func (k *Kernel) Impulse() []float64 {
	return k.source
}
