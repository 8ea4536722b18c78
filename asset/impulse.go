package asset

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ImpulseResponse is an immutable multi-channel impulse response.
type ImpulseResponse struct {
	id         uuid.UUID
	name       string
	sampleRate float64
	channels   [][]float64
}

// NewImpulseResponse wraps decoded samples. It takes ownership of channels;
// callers must not modify them afterwards. All channels must have the same
// length and contain only finite samples. Zero-length channels are allowed
// and render silence.
func NewImpulseResponse(name string, sampleRate float64, channels [][]float64) (*ImpulseResponse, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidImpulse, sampleRate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrInvalidImpulse)
	}

	n := len(channels[0])
	for c, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInvalidImpulse, c, len(ch), n)
		}
		for i, v := range ch {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: channel %d sample %d is %v", ErrInvalidImpulse, c, i, v)
			}
		}
	}

	return &ImpulseResponse{
		id:         uuid.New(),
		name:       name,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// ID returns a unique identity assigned at construction. Reloading the same
// file yields a new ID.
func (ir *ImpulseResponse) ID() uuid.UUID { return ir.id }

// Name returns the name the impulse was loaded under.
func (ir *ImpulseResponse) Name() string { return ir.name }

// SampleRate returns the source sample rate in Hz.
func (ir *ImpulseResponse) SampleRate() float64 { return ir.sampleRate }

// NumChannels returns the channel count.
func (ir *ImpulseResponse) NumChannels() int { return len(ir.channels) }

// Len returns the length in samples per channel.
func (ir *ImpulseResponse) Len() int { return len(ir.channels[0]) }

// Channel returns the samples of channel c. The slice must not be modified.
func (ir *ImpulseResponse) Channel(c int) []float64 { return ir.channels[c] }

// Duration returns the impulse length in time.
func (ir *ImpulseResponse) Duration() time.Duration {
	return time.Duration(float64(ir.Len()) / ir.sampleRate * float64(time.Second))
}

// String implements fmt.Stringer.
func (ir *ImpulseResponse) String() string {
	return fmt.Sprintf("%s (%d ch, %d samples @ %g Hz)", ir.name, ir.NumChannels(), ir.Len(), ir.sampleRate)
}
