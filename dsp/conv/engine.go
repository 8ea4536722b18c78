package conv

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// DefaultHistory is the input retained per channel, in samples, beyond what
// the installed kernel needs. A longer kernel set later is primed with at
// most this much input.
const DefaultHistory = 1 << 16

// engineState is the processing state of one channel for one kernel. It is
// built and primed off the real-time thread, handed over through a bank
// swap and owned by the real-time thread from then on. Its tails run inline
// until it goes live. Retired states are never touched by the real-time
// thread again; the worker drops them lazily.
type engineState struct {
	kernel  *Kernel
	head    *segmentConv
	tails   []*tailStage
	origin  uint64        // first block the state processed
	block   uint64        // next block to process
	hist    *inputHistory // larger ring to adopt on install, or nil
	live    atomic.Bool   // installed; the worker may run its tails
	retired atomic.Bool
}

// newEngineState returns a state that starts at block start with silent
// history. A nil or empty kernel yields a silent state.
func newEngineState(k *Kernel, start uint64) (*engineState, error) {
	s := &engineState{kernel: k, origin: start, block: start}
	if k == nil {
		return s, nil
	}

	layout := k.Layout()
	if layout.Head.Count == 0 {
		return s, nil
	}

	var err error
	s.head, err = newSegmentConv(layout.Head, k.head)
	if err != nil {
		return nil, err
	}

	s.tails = make([]*tailStage, len(layout.Tail))
	for i, seg := range layout.Tail {
		chunk := start / uint64(seg.Ratio(layout.BlockSize))
		s.tails[i], err = newTailStage(s, seg, k.tails[i], layout.BlockSize, chunk)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *engineState) retire() {
	if s != nil {
		s.retired.Store(true)
	}
}

func (s *engineState) process(input, output []float64, w *Worker, missed *atomic.Uint64) error {
	block := s.block
	s.block++

	if s.head == nil {
		clear(output)
		return nil
	}

	for _, t := range s.tails {
		t.collect(block, input)
	}

	if err := s.head.process(input, output, false); err != nil {
		return err
	}

	for _, t := range s.tails {
		if err := t.mix(block, output, w, missed); err != nil {
			return err
		}
	}

	return nil
}

// Engine is a zero-latency, real-time safe convolver for one channel: a
// single-channel Bank that can hold an impulse response before it is
// prepared.
//
// The first part of the impulse (the head) is convolved on the calling
// thread with block-sized partitions. Later parts (the tail) use partitions
// that double in size and are computed by a Worker, which has two partition
// periods per chunk before its result is due. With no worker the tail is
// computed inline, which makes the output deterministic at a higher
// per-block cost.
//
// Process must be called from a single goroutine. SetKernel and
// SetImpulseResponse may be called from any goroutine at any time: the new
// kernel is primed with the recorded input and takes over at a block
// boundary, the previous one is retired, and the most recent call wins.
type Engine struct {
	cfg engineConfig

	bank *Bank // replaced by Prepare and Close only

	// Process arguments, kept to avoid allocating per call
	in, out [1][]float64

	mu     sync.Mutex // guards kernel, source and bank replacement
	kernel *Kernel
	source []float64
}

type engineConfig struct {
	worker       *Worker
	maxPartition int
	history      int
}

// EngineOption configures an Engine or a Bank.
type EngineOption func(*engineConfig)

// WithWorker computes tail stages on w instead of inline. The worker may be
// shared by several engines.
func WithWorker(w *Worker) EngineOption {
	return func(cfg *engineConfig) {
		cfg.worker = w
	}
}

// WithEngineMaxPartition caps the tail partition size for kernels the
// engine builds itself. Non-positive values are ignored.
func WithEngineMaxPartition(n int) EngineOption {
	return func(cfg *engineConfig) {
		if n > 0 {
			cfg.maxPartition = n
		}
	}
}

// WithHistory sets the input retained per channel, in samples, for priming
// kernels longer than the installed one. Negative values are ignored.
func WithHistory(n int) EngineOption {
	return func(cfg *engineConfig) {
		if n >= 0 {
			cfg.history = n
		}
	}
}

func applyEngineOptions(opts []EngineOption) engineConfig {
	cfg := engineConfig{maxPartition: DefaultMaxPartition, history: DefaultHistory}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// NewEngine returns an unprepared engine with no impulse response.
func NewEngine(opts ...EngineOption) *Engine {
	return &Engine{cfg: applyEngineOptions(opts)}
}

// Prepare sizes the engine for blocks of blockSize samples. Any impulse
// response set before is repartitioned for the new block size; history is
// cleared. Prepare must not run concurrently with Process.
func (e *Engine) Prepare(blockSize int, sampleRate float64) error {
	if blockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive, got %d", ErrConfiguration, blockSize)
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("%w: invalid sample rate %v", ErrConfiguration, sampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank != nil {
		e.bank.Close()
	}

	bank, err := NewBank(1, blockSize,
		WithWorker(e.cfg.worker), WithHistory(e.cfg.history))
	if err != nil {
		return err
	}
	e.bank = bank

	k := e.kernel
	switch {
	case k != nil:
		k, err = k.Repartition(context.Background(), blockSize)
	case e.source != nil:
		k, err = NewKernel(e.source, blockSize, WithMaxPartition(e.cfg.maxPartition))
	}
	if err != nil {
		e.kernel = nil
		return err
	}
	if k == nil {
		return nil
	}

	if err := bank.SetKernels(context.Background(), []*Kernel{k}); err != nil {
		e.kernel = nil
		return err
	}
	e.kernel = k

	return nil
}

// SetImpulseResponse partitions ir for the prepared block size and installs
// it. The slice is retained; callers must not modify it afterwards. Before
// Prepare the impulse is stored and partitioned on the next Prepare.
func (e *Engine) SetImpulseResponse(ir []float64) error {
	return e.SetImpulseResponseContext(context.Background(), ir)
}

// SetImpulseResponseContext is like SetImpulseResponse but abandons the
// partitioning and priming when ctx is done.
func (e *Engine) SetImpulseResponseContext(ctx context.Context, ir []float64) error {
	if ir == nil {
		ir = []float64{}
	}

	e.mu.Lock()
	bank := e.bank
	if bank == nil {
		e.source = ir
		e.kernel = nil
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	k, err := NewKernelContext(ctx, ir, bank.BlockSize(), WithMaxPartition(e.cfg.maxPartition))
	if err != nil {
		return err
	}

	return e.setKernel(ctx, k)
}

// SetKernel installs a kernel built for the engine's block size. A nil
// kernel clears the impulse response and renders silence.
func (e *Engine) SetKernel(k *Kernel) error {
	if k == nil {
		return e.SetImpulseResponse([]float64{})
	}
	return e.setKernel(context.Background(), k)
}

func (e *Engine) setKernel(ctx context.Context, k *Kernel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank == nil {
		e.kernel = k
		e.source = k.Impulse()
		return nil
	}

	if k.BlockSize() != e.bank.BlockSize() {
		return fmt.Errorf("%w: kernel block size %d, engine block size %d",
			ErrConfiguration, k.BlockSize(), e.bank.BlockSize())
	}

	if err := e.bank.SetKernels(ctx, []*Kernel{k}); err != nil {
		return err
	}
	e.kernel = k
	e.source = k.Impulse()

	return nil
}

// Kernel returns the most recently installed kernel, or nil.
func (e *Engine) Kernel() *Kernel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kernel
}

// Process convolves one block. input and output must both hold exactly
// BlockSize samples; they may be the same slice. Process neither allocates
// nor blocks.
func (e *Engine) Process(input, output []float64) error {
	if e.bank == nil {
		return ErrNotPrepared
	}
	e.in[0], e.out[0] = input, output
	return e.bank.Process(e.in[:], e.out[:])
}

// Reset clears the convolution history. The reset takes effect within a
// few Process calls.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank == nil {
		return nil
	}
	return e.bank.Reset()
}

// Close releases the processing state and returns the engine to the
// unprepared condition. The impulse response is kept for the next Prepare.
// Close must not run concurrently with Process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank != nil {
		e.bank.Close()
		e.bank = nil
	}
	return nil
}

// Latency returns the added latency in samples, which is always zero.
func (e *Engine) Latency() int {
	return 0
}

// Missed returns the number of tail deadlines missed since Prepare. Each
// miss replaced one tail chunk with silence.
func (e *Engine) Missed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank == nil {
		return 0
	}
	return e.bank.Missed()
}

// Layout returns the partition schedule of the installed kernel.
func (e *Engine) Layout() Layout {
	if k := e.Kernel(); k != nil {
		return k.Layout()
	}
	return Layout{BlockSize: e.BlockSize()}
}

// BlockSize returns the prepared block size, or 0.
func (e *Engine) BlockSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank == nil {
		return 0
	}
	return e.bank.BlockSize()
}
