package buffer

// Buffer holds planar float64 samples: one slice per channel, all backed by
// a single contiguous array.
type Buffer struct {
	data     []float64
	channels [][]float64
	frames   int
}

// New returns a zero-filled Buffer. Negative sizes are treated as zero.
func New(channels, frames int) *Buffer {
	channels = max(channels, 0)
	frames = max(frames, 0)

	b := &Buffer{
		data:     make([]float64, channels*frames),
		channels: make([][]float64, channels),
		frames:   frames,
	}
	for c := range b.channels {
		b.channels[c] = b.data[c*frames : (c+1)*frames : (c+1)*frames]
	}
	return b
}

// FromChannels wraps existing channel slices without copying. All channels
// are truncated to the shortest one.
func FromChannels(channels [][]float64) *Buffer {
	frames := 0
	if len(channels) > 0 {
		frames = len(channels[0])
		for _, ch := range channels[1:] {
			frames = min(frames, len(ch))
		}
	}

	b := &Buffer{channels: make([][]float64, len(channels)), frames: frames}
	for c, ch := range channels {
		b.channels[c] = ch[:frames:frames]
	}
	return b
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.channels)
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	return b.frames
}

// Channel returns the samples of channel c.
func (b *Buffer) Channel(c int) []float64 {
	return b.channels[c]
}

// Channels returns all channel slices.
func (b *Buffer) Channels() [][]float64 {
	return b.channels
}

// Zero sets all samples to 0.
func (b *Buffer) Zero() {
	for _, ch := range b.channels {
		clear(ch)
	}
}

// CopyFrom copies src[c][offset:] into each channel, zero-filling what src
// does not cover. Channels missing from src are cleared. It returns the
// number of frames taken from src.
func (b *Buffer) CopyFrom(src [][]float64, offset int) int {
	n := 0
	for c, ch := range b.channels {
		var m int
		if c < len(src) && offset < len(src[c]) {
			m = copy(ch, src[c][max(offset, 0):])
		}
		clear(ch[m:])
		n = max(n, m)
	}
	return n
}

// CopyTo copies up to frames samples of each channel into dst[c][offset:].
func (b *Buffer) CopyTo(dst [][]float64, offset, frames int) {
	frames = min(frames, b.frames)
	for c, ch := range b.channels {
		if c >= len(dst) || offset >= len(dst[c]) {
			continue
		}
		copy(dst[c][offset:], ch[:frames])
	}
}

// Interleave writes the samples frame by frame into dst and returns the
// number of values written.
func (b *Buffer) Interleave(dst []float64) int {
	numCh := len(b.channels)
	if numCh == 0 {
		return 0
	}

	frames := min(b.frames, len(dst)/numCh)
	for i := range frames {
		for c, ch := range b.channels {
			dst[i*numCh+c] = ch[i]
		}
	}
	return frames * numCh
}
