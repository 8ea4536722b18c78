package node

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-convolve/dsp/buffer"
	"github.com/cwbudde/algo-convolve/dsp/conv"
	"github.com/cwbudde/algo-convolve/dsp/core"
)

// ChannelArray convolves a fixed number of channels with one kernel each.
// All channels switch kernels at the same block. Its size is fixed at
// construction; rebuild it to change the channel count.
type ChannelArray struct {
	cfg     core.ProcessorConfig
	bank    *conv.Bank
	scratch *buffer.Buffer
}

// NewChannelArray prepares a bank of cfg.Channels channels. Tail stages are
// computed on w, or inline when w is nil.
func NewChannelArray(cfg core.ProcessorConfig, w *conv.Worker) (*ChannelArray, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var opts []conv.EngineOption
	if w != nil {
		opts = append(opts, conv.WithWorker(w))
	}

	bank, err := conv.NewBank(cfg.Channels, cfg.BlockSize, opts...)
	if err != nil {
		return nil, err
	}

	return &ChannelArray{
		cfg:     cfg,
		bank:    bank,
		scratch: buffer.New(cfg.Channels, cfg.BlockSize),
	}, nil
}

// Len returns the number of channels.
func (a *ChannelArray) Len() int {
	return a.bank.NumChannels()
}

// Config returns the processing config the array was built for.
func (a *ChannelArray) Config() core.ProcessorConfig {
	return a.cfg
}

// Layout returns the partition schedule of the installed kernels.
func (a *ChannelArray) Layout() conv.Layout {
	return a.bank.Layout()
}

// Install primes one kernel per channel with the recorded input and hands
// them over together. A nil slice clears every channel. Install may run
// concurrently with Process; ctx abandons the priming.
func (a *ChannelArray) Install(ctx context.Context, kernels []*conv.Kernel) error {
	if kernels != nil && len(kernels) != a.Len() {
		return fmt.Errorf("%w: %d kernels for %d channels", ErrConfiguration, len(kernels), a.Len())
	}
	return a.bank.SetKernels(ctx, kernels)
}

// Process convolves every channel in place. buffers must hold exactly one
// block per channel; otherwise nothing is modified.
func (a *ChannelArray) Process(buffers [][]float64) error {
	if len(buffers) != a.Len() {
		return fmt.Errorf("%w: %d channels, prepared for %d", ErrConfiguration, len(buffers), a.Len())
	}
	for c, b := range buffers {
		if len(b) != a.cfg.BlockSize {
			return fmt.Errorf("%w: channel %d has %d samples, block size %d",
				ErrConfiguration, c, len(b), a.cfg.BlockSize)
		}
	}

	out := a.scratch.Channels()
	if err := a.bank.Process(buffers, out); err != nil {
		return err
	}
	for c := range buffers {
		copy(buffers[c], out[c])
	}
	return nil
}

// Reset clears the history of every channel.
func (a *ChannelArray) Reset() error {
	return a.bank.Reset()
}

// Missed returns the tail deadlines missed across all channels.
func (a *ChannelArray) Missed() uint64 {
	return a.bank.Missed()
}

// Close releases the processing state.
func (a *ChannelArray) Close() {
	a.bank.Close()
}
