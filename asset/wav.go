package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-convolve/dsp/buffer"
	"github.com/cwbudde/algo-convolve/dsp/core"
)

// FileLoader reads WAV files below Root. A reference resolves to
// Root/<category dir>/<id>; ids without an extension get ".wav" appended.
type FileLoader struct {
	Root string
}

// NewFileLoader returns a loader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Root: dir}
}

// Path returns the file a reference resolves to.
func (l *FileLoader) Path(ref Reference) (string, error) {
	rel := filepath.FromSlash(ref.ID)
	if ref.ID == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q escapes the pool root", ErrNotFound, ref.ID)
	}
	if filepath.Ext(rel) == "" {
		rel += ".wav"
	}
	return filepath.Join(l.Root, ref.Category.Dir(), rel), nil
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context, ref Reference) (*ImpulseResponse, error) {
	path, err := l.Path(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channels, sampleRate, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return NewImpulseResponse(ref.ID, float64(sampleRate), channels)
}

// DecodeWAV reads a whole WAV stream and returns its samples per channel in
// [-1, 1] together with the sample rate.
func DecodeWAV(r io.ReadSeeker) ([][]float64, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a valid wav file", ErrInvalidImpulse)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("%w: missing wav format", ErrInvalidImpulse)
	}

	numCh := buf.Format.NumChannels
	frames := len(buf.Data) / numCh
	channels := make([][]float64, numCh)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := range frames {
		for c := range numCh {
			channels[c][i] = float64(buf.Data[i*numCh+c])
		}
	}

	return channels, buf.Format.SampleRate, nil
}

// EncodeWAV writes channels as 16-bit PCM. Samples are clipped to [-1, 1].
func EncodeWAV(w io.WriteSeeker, sampleRate int, channels [][]float64) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidImpulse)
	}

	numCh := len(channels)
	frames := len(channels[0])
	for c, ch := range channels {
		if len(ch) != frames {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInvalidImpulse, c, len(ch), frames)
		}
	}

	interleaved := make([]float64, frames*numCh)
	buffer.FromChannels(channels).Interleave(interleaved)

	data := make([]float32, len(interleaved))
	for i, v := range interleaved {
		data[i] = float32(core.Clamp(v, -1, 1))
	}

	enc := wav.NewEncoder(w, sampleRate, 16, numCh, 1)
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: numCh,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
