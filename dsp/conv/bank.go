package conv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// catchUpBlocks bounds the extra blocks a pending state is advanced by
	// in one Process call.
	catchUpBlocks = 4

	// primePasses bounds how often a builder chases the live input before
	// it leaves the rest of the catch-up to the real-time thread.
	primePasses = 3
)

// bankSwap carries one new state per channel. The states are installed
// together at the start of a block.
type bankSwap struct {
	states []*engineState
	fresh  bool // discard the recorded input on install
}

func (s *bankSwap) retire() {
	if s == nil {
		return
	}
	for _, st := range s.states {
		st.retire()
	}
}

type bankChannel struct {
	hist    atomic.Pointer[inputHistory] // replaced by the real-time thread only
	current *engineState                 // real-time thread only
	scratch []float64
}

// Bank convolves a fixed number of channels, one engine state each, and
// switches kernels for all channels at the same block.
//
// Input history belongs to the bank, not to a kernel: every channel records
// its recent input, and a new kernel is primed with it before it goes live.
// Its output therefore continues as if it had always been installed, and no
// block ever mixes the old and the new kernel. Priming runs on the calling
// goroutine of SetKernels; input that arrives meanwhile is fed to the new
// states by Process a few blocks at a time, so the switch may land a few
// blocks after SetKernels returns.
//
// Process must be called from a single goroutine. SetKernels and Reset may
// be called from any goroutine; the most recent call wins.
type Bank struct {
	worker    *Worker
	blockSize int
	history   int // minimum retained input in blocks

	channels []*bankChannel
	block    uint64     // real-time thread only
	next     *bankSwap  // real-time thread only
	pending  atomic.Pointer[bankSwap]
	missed   atomic.Uint64

	mu      sync.Mutex // serializes builders; guards kernels and closed
	kernels []*Kernel
	closed  bool
}

// NewBank returns a bank of numChannels silent channels processing blocks
// of blockSize samples. WithWorker and WithHistory apply; the partition cap
// is a property of the kernels passed to SetKernels.
func NewBank(numChannels, blockSize int, opts ...EngineOption) (*Bank, error) {
	if numChannels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrConfiguration, numChannels)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrConfiguration, blockSize)
	}

	cfg := applyEngineOptions(opts)
	b := &Bank{
		worker:    cfg.worker,
		blockSize: blockSize,
		history:   ceilDiv(cfg.history, blockSize),
		channels:  make([]*bankChannel, numChannels),
	}
	for c := range b.channels {
		ch := &bankChannel{scratch: make([]float64, blockSize)}
		ch.hist.Store(newInputHistory(blockSize, b.history+historySlack))
		b.channels[c] = ch
	}
	return b, nil
}

// NumChannels returns the channel count.
func (b *Bank) NumChannels() int {
	return len(b.channels)
}

// BlockSize returns the block size.
func (b *Bank) BlockSize() int {
	return b.blockSize
}

// SetKernels installs one kernel per channel. A nil slice or a nil entry
// silences the channel. Kernels may be shared between channels. The new
// kernels go live for all channels at the same block, primed with the
// recorded input; ctx abandons the priming.
func (b *Bank) SetKernels(ctx context.Context, kernels []*Kernel) error {
	if kernels != nil && len(kernels) != len(b.channels) {
		return fmt.Errorf("%w: %d kernels for %d channels", ErrConfiguration, len(kernels), len(b.channels))
	}
	for c, k := range kernels {
		if k != nil && k.BlockSize() != b.blockSize {
			return fmt.Errorf("%w: channel %d kernel block size %d, bank block size %d",
				ErrConfiguration, c, k.BlockSize(), b.blockSize)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrNotPrepared
	}

	swap := &bankSwap{states: make([]*engineState, len(b.channels))}
	for c := range b.channels {
		var k *Kernel
		if kernels != nil {
			k = kernels[c]
		}
		st, err := b.prime(ctx, c, k)
		if err != nil {
			swap.retire()
			return err
		}
		swap.states[c] = st
	}

	b.publish(swap)
	b.kernels = kernels
	return nil
}

// Reset discards the recorded input and the convolution history of every
// channel. It takes effect within a few Process calls.
func (b *Bank) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	swap := &bankSwap{states: make([]*engineState, len(b.channels)), fresh: true}
	for c, ch := range b.channels {
		var k *Kernel
		if b.kernels != nil {
			k = b.kernels[c]
		}
		st, err := newEngineState(k, ch.hist.Load().written.Load())
		if err != nil {
			swap.retire()
			return err
		}
		swap.states[c] = st
	}

	b.publish(swap)
	return nil
}

// prime builds the state for channel c and feeds it the recorded input up
// to (nearly) the live block. Callers hold b.mu.
func (b *Bank) prime(ctx context.Context, c int, k *Kernel) (*engineState, error) {
	h := b.channels[c].hist.Load()
	w := h.written.Load()

	if k == nil || k.Len() == 0 {
		return newEngineState(k, w)
	}

	l := k.Layout()
	start := primeStart(w, l)
	st, err := newEngineState(k, start)
	if err != nil {
		return nil, err
	}

	if need := max(b.history, reach(l)+l.maxRatio()) + historySlack; need > h.capacity() {
		st.hist = newInputHistory(b.blockSize, need)
		st.hist.floor.Store(start)
	}

	in := make([]float64, b.blockSize)
	out := make([]float64, b.blockSize)
	for range primePasses {
		target := h.written.Load()
		if target-st.block <= catchUpBlocks {
			break
		}
		for st.block < target {
			if err := ctx.Err(); err != nil {
				st.retire()
				return nil, err
			}
			h.read(st.block, in)
			if st.hist != nil {
				st.hist.write(st.block, in)
			}
			if err := st.process(in, out, nil, nil); err != nil {
				st.retire()
				return nil, err
			}
		}
	}

	return st, nil
}

// publish registers the new tail stages and hands the swap to the
// real-time thread. Callers hold b.mu.
func (b *Bank) publish(swap *bankSwap) {
	if b.worker != nil {
		var stages []*tailStage
		for _, st := range swap.states {
			stages = append(stages, st.tails...)
		}
		b.worker.register(stages)
	}
	b.pending.Swap(swap).retire()
}

// Process convolves one block per channel. in and out must hold one slice
// of BlockSize samples per channel; in[c] and out[c] may be the same slice.
// Process neither allocates nor blocks.
func (b *Bank) Process(in, out [][]float64) error {
	if len(in) != len(b.channels) || len(out) != len(b.channels) {
		return fmt.Errorf("%w: %d/%d channels, bank has %d",
			ErrConfiguration, len(in), len(out), len(b.channels))
	}
	for c := range b.channels {
		if len(in[c]) != b.blockSize || len(out[c]) != b.blockSize {
			return fmt.Errorf("%w: channel %d buffer length %d/%d, block size %d",
				ErrConfiguration, c, len(in[c]), len(out[c]), b.blockSize)
		}
	}

	for c, ch := range b.channels {
		ch.hist.Load().write(b.block, in[c])
	}

	if p := b.pending.Swap(nil); p != nil {
		b.next.retire()
		b.next = p
	}

	var firstErr error
	if b.next != nil {
		done, err := b.catchUp()
		firstErr = err
		if done {
			b.install(in)
		}
	}

	for c, ch := range b.channels {
		if ch.current == nil {
			clear(out[c])
			continue
		}
		if err := ch.current.process(in[c], out[c], b.worker, &b.missed); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	b.block++
	return firstErr
}

// catchUp advances the pending states towards the live block and reports
// whether all of them reached it. Their tails run inline until install.
func (b *Bank) catchUp() (bool, error) {
	var firstErr error
	done := true

	for c, st := range b.next.states {
		ch := b.channels[c]
		h := ch.hist.Load()

		for i := 0; i < catchUpBlocks && st.block < b.block; i++ {
			h.read(st.block, ch.scratch)
			if st.hist != nil {
				st.hist.write(st.block, ch.scratch)
			}
			if err := st.process(ch.scratch, ch.scratch, nil, nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if st.block < b.block {
			done = false
		}
	}

	return done, firstErr
}

// install makes the pending states current. in is the live block, already
// recorded in the old history rings.
func (b *Bank) install(in [][]float64) {
	swap := b.next
	b.next = nil

	for c, ch := range b.channels {
		st := swap.states[c]
		if st.hist != nil {
			st.hist.write(b.block, in[c])
			ch.hist.Store(st.hist)
		}
		if swap.fresh {
			ch.hist.Load().floor.Store(st.origin)
		}

		st.live.Store(true)
		ch.current.retire()
		ch.current = st
	}
}

// Kernels returns the most recently set kernels, or nil.
func (b *Bank) Kernels() []*Kernel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kernels
}

// Layout returns the partition schedule of the first channel with a kernel.
func (b *Bank) Layout() Layout {
	for _, k := range b.Kernels() {
		if k != nil {
			return k.Layout()
		}
	}
	return Layout{BlockSize: b.blockSize}
}

// Missed returns the number of tail deadlines missed across all channels.
func (b *Bank) Missed() uint64 {
	return b.missed.Load()
}

// Close retires every state. Process, SetKernels and Reset become no-ops
// or fail with ErrNotPrepared. Close must not run concurrently with Process.
func (b *Bank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.pending.Swap(nil).retire()
	b.next.retire()
	b.next = nil
	for _, ch := range b.channels {
		ch.current.retire()
		ch.current = nil
	}

	if b.worker != nil {
		b.worker.prune()
	}
}
