package conv

import "fmt"

const (
	// headPartitions is the number of block-sized partitions convolved
	// synchronously. The first tail stage (partition 2B) starts right after
	// them at offset 4B = 2*(2B).
	headPartitions = 4

	// DefaultMaxPartition caps the tail partition size in samples.
	DefaultMaxPartition = 8192
)

// Segment describes a run of equally sized impulse partitions.
type Segment struct {
	Offset        int // first impulse tap covered by the segment
	PartitionSize int // samples per partition
	Count         int // number of partitions
}

// Len returns the number of impulse taps covered by the segment.
func (s Segment) Len() int {
	return s.PartitionSize * s.Count
}

// End returns the tap index just past the segment.
func (s Segment) End() int {
	return s.Offset + s.Len()
}

// Ratio returns the number of blocks gathered per partition.
func (s Segment) Ratio(blockSize int) int {
	return s.PartitionSize / blockSize
}

// Layout is the head/tail partition schedule of an impulse response for a
// fixed block size.
//
// The head segment uses block-sized partitions and is convolved on the
// calling thread every block. Tail stage i uses partitions of blockSize<<i
// samples and starts exactly two of its own partitions into the impulse, so
// a chunk gathered at block boundary c is not needed before boundary c+2.
// That period is the budget of the background worker.
type Layout struct {
	BlockSize int
	Length    int
	Head      Segment
	Tail      []Segment
}

// PlanLayout computes the partition schedule for an impulse of length taps
// processed in blocks of blockSize samples. maxPartition caps the tail
// partition size; values below 2*blockSize disable the tail entirely.
func PlanLayout(blockSize, length, maxPartition int) (Layout, error) {
	if blockSize <= 0 {
		return Layout{}, fmt.Errorf("%w: block size must be positive, got %d", ErrConfiguration, blockSize)
	}
	if length < 0 {
		return Layout{}, fmt.Errorf("%w: negative impulse length %d", ErrConfiguration, length)
	}

	l := Layout{
		BlockSize: blockSize,
		Length:    length,
		Head:      Segment{PartitionSize: blockSize},
	}
	if length == 0 {
		return l, nil
	}

	maxOrder := 0
	if maxPartition >= 2*blockSize {
		maxOrder = truncLog2(maxPartition / blockSize)
	}

	if maxOrder == 0 {
		l.Head.Count = ceilDiv(length, blockSize)
		return l, nil
	}

	headLen := min(length, headPartitions*blockSize)
	l.Head.Count = ceilDiv(headLen, blockSize)

	pos := headPartitions * blockSize
	for order := 1; pos < length; order++ {
		size := blockSize << order
		count := ceilDiv(length-pos, size)
		if order < maxOrder {
			count = min(count, 2)
		}

		l.Tail = append(l.Tail, Segment{Offset: pos, PartitionSize: size, Count: count})
		pos += count * size
	}

	return l, nil
}

// Partitions returns the total number of partitions in the layout.
func (l Layout) Partitions() int {
	n := l.Head.Count
	for _, s := range l.Tail {
		n += s.Count
	}
	return n
}

// Latency returns the algorithmic latency in samples. The head is computed
// with the current block included, so it is always zero.
func (l Layout) Latency() int {
	return 0
}

// Depth returns the tail scheduling depth in blocks: the distance between
// the last block of a gathered chunk and the first block that consumes its
// result, for the largest tail stage.
func (l Layout) Depth() int {
	if len(l.Tail) == 0 {
		return 0
	}
	return l.Tail[len(l.Tail)-1].Ratio(l.BlockSize) + 1
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	s := fmt.Sprintf("B=%d L=%d head=%dx%d", l.BlockSize, l.Length, l.Head.Count, l.Head.PartitionSize)
	for _, t := range l.Tail {
		s += fmt.Sprintf(" tail@%d=%dx%d", t.Offset, t.Count, t.PartitionSize)
	}
	return s
}
