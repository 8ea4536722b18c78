package conv

import (
	"sync/atomic"

	"github.com/cwbudde/algo-vecmath"
)

const noChunk = ^uint64(0)

// tailStage runs one tail Segment of a kernel. The real-time thread gathers
// input blocks into chunks of PartitionSize samples and hands each complete
// chunk to the worker through a double-buffered slot; the worker convolves
// it and publishes the result into the matching output slot.
//
// Chunk c uses input and output slot c&1. Its result is read during output
// chunk c+2, because the segment starts two partitions into the impulse.
// Slot ownership follows from two monotonic counters:
//
//   - submitted (written by the real-time thread): last submitted chunk + 1
//   - completed (written by the worker): number of chunks processed
//
// Slot c&1 may be refilled for chunk c only when chunk c-2 has completed,
// which is also the condition for its result to be readable. When the worker
// is behind the chunk is dropped and later processed as silence, so the
// delay line never shifts out of step with the input.
type tailStage struct {
	owner     *engineState
	conv      *segmentConv
	blockSize int
	ratio     int

	// real-time thread only
	gather   []float64
	readSlot int
	readOK   bool

	// handoff
	in        [2][]float64
	inSeq     [2]uint64
	out       [2][]float64
	submitted atomic.Uint64
	completed atomic.Uint64
	missed    atomic.Uint64

	// worker only
	reported uint64
}

// newTailStage returns a stage whose first chunk is start. Earlier chunks
// count as processed silence.
func newTailStage(owner *engineState, seg Segment, spectra [][]complex128, blockSize int, start uint64) (*tailStage, error) {
	sc, err := newSegmentConv(seg, spectra)
	if err != nil {
		return nil, err
	}

	p := seg.PartitionSize
	t := &tailStage{
		owner:     owner,
		conv:      sc,
		blockSize: blockSize,
		ratio:     seg.Ratio(blockSize),
		gather:    make([]float64, p),
		inSeq:     [2]uint64{noChunk, noChunk},
	}
	for i := range 2 {
		t.in[i] = make([]float64, p)
		t.out[i] = make([]float64, p)
	}
	t.completed.Store(start)
	t.submitted.Store(start)

	return t, nil
}

// collect copies the current input block into the gather buffer.
func (t *tailStage) collect(block uint64, input []float64) {
	q := int(block % uint64(t.ratio))
	copy(t.gather[q*t.blockSize:], input)
}

// mix adds the tail contribution for the current block into output and
// submits the gathered chunk when it is complete. missed counts results that
// were not ready in time or chunks that could not be handed off.
func (t *tailStage) mix(block uint64, output []float64, w *Worker, missed *atomic.Uint64) error {
	r := uint64(t.ratio)
	q := int(block % r)
	c := block / r

	if q == 0 {
		t.readOK = false
		if c >= 2 {
			if t.completed.Load() >= c-1 {
				t.readOK = true
				t.readSlot = int((c - 2) & 1)
			} else {
				t.miss(missed)
			}
		}
	}

	if t.readOK {
		b := t.blockSize
		vecmath.AddBlockInPlace(output, t.out[t.readSlot][q*b:(q+1)*b])
	}

	if q != t.ratio-1 {
		return nil
	}

	slot := c & 1
	if w == nil {
		err := t.conv.process(t.gather, t.out[slot], false)
		t.completed.Store(c + 1)
		t.submitted.Store(c + 1)
		return err
	}

	if c >= 2 && t.completed.Load() < c-1 {
		t.miss(missed)
		return nil
	}

	copy(t.in[slot], t.gather)
	t.inSeq[slot] = c
	t.submitted.Store(c + 1)
	w.notify()

	return nil
}

func (t *tailStage) miss(total *atomic.Uint64) {
	t.missed.Add(1)
	if total != nil {
		total.Add(1)
	}
}

// drain processes every submitted chunk. It runs on the worker goroutine and
// returns the first error; failed chunks publish silence.
func (t *tailStage) drain() error {
	var firstErr error

	for {
		next := t.completed.Load()
		if next >= t.submitted.Load() {
			return firstErr
		}

		slot := next & 1
		var in []float64
		if t.inSeq[slot] == next {
			in = t.in[slot]
		}

		if err := t.conv.process(in, t.out[slot], false); err != nil {
			clear(t.out[slot])
			if firstErr == nil {
				firstErr = err
			}
		}

		t.completed.Store(next + 1)
	}
}

// idle reports whether every submitted chunk has been processed.
func (t *tailStage) idle() bool {
	return t.completed.Load() >= t.submitted.Load()
}
