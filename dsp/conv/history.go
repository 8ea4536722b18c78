package conv

import "sync/atomic"

// historySlack is the number of blocks kept beyond what the installed
// kernels need, so a freshly built state can still catch up on the input
// that arrived while it was being primed.
const historySlack = 64

// inputHistory is a ring of the most recent input blocks of one channel.
// The real-time thread is its only writer. Kernel builders copy blocks out
// of it to prime new processing states; a block overwritten during the copy
// reads as silence.
type inputHistory struct {
	blockSize int
	slots     [][]float64

	written atomic.Uint64 // blocks written since Prepare
	floor   atomic.Uint64 // blocks before floor read as silence
	reads   atomic.Uint64 // bumped after every copy, loaded before every write
}

func newInputHistory(blockSize, blocks int) *inputHistory {
	h := &inputHistory{
		blockSize: blockSize,
		slots:     make([][]float64, max(blocks, 1)),
	}
	for i := range h.slots {
		h.slots[i] = make([]float64, blockSize)
	}
	return h
}

// capacity returns the number of blocks the ring holds.
func (h *inputHistory) capacity() int {
	return len(h.slots)
}

// write stores block n. Blocks must be written in order.
func (h *inputHistory) write(n uint64, in []float64) {
	h.reads.Load() // orders earlier copies before the slot is reused
	copy(h.slots[n%uint64(len(h.slots))], in)
	h.written.Store(n + 1)
}

// read copies block n into dst and reports whether it was available.
func (h *inputHistory) read(n uint64, dst []float64) bool {
	size := uint64(len(h.slots))
	w := h.written.Load()
	if n >= w || n < h.floor.Load() || n+size <= w+1 {
		clear(dst)
		return false
	}

	copy(dst, h.slots[n%size])
	h.reads.Add(1)

	// The writer may have reached the slot during the copy.
	if n+size <= h.written.Load()+1 {
		clear(dst)
		return false
	}
	return true
}

// reach returns the number of past blocks that influence the output of a
// state built for l, rounded so priming can start on a chunk boundary of
// every tail stage.
func reach(l Layout) int {
	if l.Length == 0 {
		return 0
	}
	return ceilDiv(l.Length, l.BlockSize) + 3*l.maxRatio() + headPartitions + 2
}

// maxRatio returns the block ratio of the largest tail stage, or 1.
func (l Layout) maxRatio() int {
	if len(l.Tail) == 0 {
		return 1
	}
	return l.Tail[len(l.Tail)-1].Ratio(l.BlockSize)
}

// primeStart returns the block a new state for l starts processing at when
// it has to be current at block w. Input before it cannot reach the output.
func primeStart(w uint64, l Layout) uint64 {
	r := uint64(reach(l))
	if w <= r {
		return 0
	}
	start := w - r
	return start - start%uint64(l.maxRatio())
}
