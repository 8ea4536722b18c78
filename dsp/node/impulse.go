package node

import (
	"context"
	"fmt"
	"slices"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/conv"
	"github.com/cwbudde/algo-convolve/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-vecmath"
)

// ImpulseOptions controls how an impulse response is conditioned before it
// is partitioned. The zero value leaves the impulse untouched apart from
// resampling to the processing rate.
//
// Steps run in field order. Trimming, normalization and gain are computed
// across all channels so their balance is preserved.
type ImpulseOptions struct {
	// TrimThresholdDB removes trailing samples below this level in dBFS.
	// Zero disables trimming.
	TrimThresholdDB float64

	// MaxLength truncates the impulse to this many samples. Zero means
	// unlimited.
	MaxLength int

	// FadeOut applies the falling half of a Hann window to the last FadeOut
	// samples.
	FadeOut int

	// Normalize scales the impulse to a peak of 0 dBFS.
	Normalize bool

	// GainDB is applied last.
	GainDB float64
}

func (o ImpulseOptions) passthrough(ir *asset.ImpulseResponse, sampleRate float64) bool {
	return core.NearlyEqual(ir.SampleRate(), sampleRate, 1e-9) &&
		o.TrimThresholdDB == 0 &&
		(o.MaxLength <= 0 || o.MaxLength >= ir.Len()) &&
		o.FadeOut <= 0 &&
		!o.Normalize &&
		o.GainDB == 0
}

// Apply returns the conditioned samples of the given impulse channels at
// sampleRate. When no step applies the impulse's own slices are returned.
func (o ImpulseOptions) Apply(ctx context.Context, ir *asset.ImpulseResponse, channels []int, sampleRate float64) ([][]float64, error) {
	out := make([][]float64, len(channels))
	if o.passthrough(ir, sampleRate) {
		for i, c := range channels {
			out[i] = ir.Channel(c)
		}
		return out, nil
	}

	resampling := !core.NearlyEqual(ir.SampleRate(), sampleRate, 1e-9)
	for i, c := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !resampling {
			out[i] = slices.Clone(ir.Channel(c))
			continue
		}

		r, err := resample.NewForRates(ir.SampleRate(), sampleRate, resample.WithQuality(resample.QualityBest))
		if err != nil {
			return nil, fmt.Errorf("node: resample %g -> %g Hz: %w", ir.SampleRate(), sampleRate, err)
		}
		out[i] = r.Process(ir.Channel(c))
	}

	n := len(out[0])
	for _, ch := range out[1:] {
		n = min(n, len(ch))
	}

	if o.TrimThresholdDB != 0 {
		n = min(n, trimmedLen(out, core.DBToLinear(o.TrimThresholdDB)))
	}
	if o.MaxLength > 0 {
		n = min(n, o.MaxLength)
	}
	for i := range out {
		out[i] = out[i][:n]
	}

	if fade := min(o.FadeOut, n); fade > 0 {
		w := window.Generate(window.TypeHann, 2*fade)
		for _, ch := range out {
			vecmath.MulBlockInPlace(ch[n-fade:], w[fade:])
		}
	}

	scale := core.DBToLinear(o.GainDB)
	if o.Normalize {
		peak := 0.0
		for _, ch := range out {
			peak = max(peak, vecmath.MaxAbs(ch))
		}
		if peak > 0 {
			scale /= peak
		}
	}
	if scale != 1 {
		for _, ch := range out {
			vecmath.ScaleBlockInPlace(ch, scale)
		}
	}

	return out, nil
}

// trimmedLen returns the length that keeps every sample at or above
// threshold in any channel.
func trimmedLen(channels [][]float64, threshold float64) int {
	n := 0
	for _, ch := range channels {
		for i := len(ch) - 1; i >= n; i-- {
			if ch[i] >= threshold || ch[i] <= -threshold {
				n = i + 1
				break
			}
		}
	}
	return n
}

// channelMap returns, for every node channel, the impulse channel it uses.
func channelMap(irChannels, nodeChannels int) ([]int, error) {
	m := make([]int, nodeChannels)
	switch irChannels {
	case nodeChannels:
		for c := range m {
			m[c] = c
		}
	case 1:
		// mono impulse shared by every channel
	default:
		return nil, fmt.Errorf("%w: impulse has %d channels, node has %d",
			ErrConfiguration, irChannels, nodeChannels)
	}
	return m, nil
}

// buildKernels conditions and partitions ir for the given processing
// config. Node channels that share an impulse channel share its kernel.
func buildKernels(ctx context.Context, ir *asset.ImpulseResponse, cfg core.ProcessorConfig, opts ImpulseOptions, maxPartition int) ([]*conv.Kernel, error) {
	mapping, err := channelMap(ir.NumChannels(), cfg.Channels)
	if err != nil {
		return nil, err
	}

	used := slices.Compact(slices.Clone(mapping))
	samples, err := opts.Apply(ctx, ir, used, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	byChannel := make(map[int]*conv.Kernel, len(used))
	for i, c := range used {
		k, err := conv.NewKernelContext(ctx, samples[i], cfg.BlockSize, conv.WithMaxPartition(maxPartition))
		if err != nil {
			return nil, err
		}
		byChannel[c] = k
	}

	kernels := make([]*conv.Kernel, len(mapping))
	for c, src := range mapping {
		kernels[c] = byChannel[src]
	}
	return kernels, nil
}
