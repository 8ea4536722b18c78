package conv

import (
	"fmt"

	algofft "github.com/cwbudde/algo-fft"
)

// segmentConv is a uniformly partitioned overlap-save convolver for one
// Segment of a kernel. It keeps the last fftSize input samples and a
// frequency-domain delay line with one input spectrum per partition.
//
// Every call consumes exactly partSize samples and produces the matching
// partSize output samples with no added latency: the newest input window is
// transformed, multiplied against partition 0, older windows against the
// later partitions, and the last partSize samples of the inverse transform
// are free of circular wrap-around.
type segmentConv struct {
	partSize int
	fftSize  int

	spectra [][]complex128 // shared, read-only
	plan    *algofft.Plan[complex128]

	history []float64      // fftSize, newest input at the end
	fdl     [][]complex128 // ring of input spectra
	fdlPos  int            // index of the newest spectrum
	frame   []complex128   // FFT input / IFFT output scratch
	acc     []complex128   // spectral accumulator
}

func newSegmentConv(seg Segment, spectra [][]complex128) (*segmentConv, error) {
	fftSize := nextPowerOf2(2 * seg.PartitionSize)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan (size=%d): %w", fftSize, err)
	}

	fdl := make([][]complex128, len(spectra))
	for i := range fdl {
		fdl[i] = make([]complex128, fftSize)
	}

	return &segmentConv{
		partSize: seg.PartitionSize,
		fftSize:  fftSize,
		spectra:  spectra,
		plan:     plan,
		history:  make([]float64, fftSize),
		fdl:      fdl,
		fdlPos:   len(fdl) - 1,
		frame:    make([]complex128, fftSize),
		acc:      make([]complex128, fftSize),
	}, nil
}

// process consumes partSize input samples and writes partSize output
// samples. A nil input is treated as silence. With add set the result is
// accumulated into out instead of overwriting it.
func (s *segmentConv) process(in, out []float64, add bool) error {
	p := s.partSize

	copy(s.history, s.history[p:])
	newest := s.history[s.fftSize-p:]
	if in == nil {
		clear(newest)
	} else {
		copy(newest, in)
	}

	for i, v := range s.history {
		s.frame[i] = complex(v, 0)
	}

	s.fdlPos++
	if s.fdlPos == len(s.fdl) {
		s.fdlPos = 0
	}

	if err := s.plan.Forward(s.fdl[s.fdlPos], s.frame); err != nil {
		return fmt.Errorf("conv: forward FFT failed: %w", err)
	}

	clear(s.acc)
	pos := s.fdlPos
	for _, h := range s.spectra {
		x := s.fdl[pos]
		for i := range s.acc {
			s.acc[i] += x[i] * h[i]
		}

		pos--
		if pos < 0 {
			pos = len(s.fdl) - 1
		}
	}

	if err := s.plan.Inverse(s.frame, s.acc); err != nil {
		return fmt.Errorf("conv: inverse FFT failed: %w", err)
	}

	valid := s.frame[s.fftSize-p:]
	if add {
		for i := range p {
			out[i] += real(valid[i])
		}
	} else {
		for i := range p {
			out[i] = real(valid[i])
		}
	}

	return nil
}

// reset clears the input history and the delay line.
func (s *segmentConv) reset() {
	clear(s.history)
	for _, x := range s.fdl {
		clear(x)
	}
	s.fdlPos = len(s.fdl) - 1
}
