// Command irconvolve renders a WAV file through an impulse response.
//
// Usage:
//
//	irconvolve [flags] -ir NAME -in INPUT.wav -out OUTPUT.wav
//	irconvolve -info -ir NAME
//
// The impulse is looked up as ROOT/AudioFiles/NAME.wav. The output is longer than
// the input by the impulse length, so reverb tails are not cut off.
//
// Examples:
//
//	irconvolve -root ./assets -ir hall -in dry.wav -out wet.wav
//	irconvolve -root ./assets -ir hall -in dry.wav -out wet.wav -normalize -trim -80
//	irconvolve -block 128 -async -ir cabinet -in guitar.wav -out amp.wav
//	irconvolve -root ./assets -info -ir hall
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/buffer"
	"github.com/cwbudde/algo-convolve/dsp/core"
	"github.com/cwbudde/algo-convolve/dsp/node"
)

func main() {
	root := flag.String("root", ".", "asset root directory")
	irName := flag.String("ir", "", "impulse response identifier")
	inPath := flag.String("in", "", "input wav file")
	outPath := flag.String("out", "", "output wav file")
	block := flag.Int("block", 512, "processing block size in samples")
	normalize := flag.Bool("normalize", false, "normalize the impulse to 0 dBFS")
	trim := flag.Float64("trim", 0, "trim the impulse tail below this level in dBFS (0 disables)")
	async := flag.Bool("async", false, "compute the tail on a background worker")
	info := flag.Bool("info", false, "print impulse response metrics and exit")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: irconvolve [flags] -ir NAME -in INPUT.wav -out OUTPUT.wav\n\n")
		fmt.Fprintf(os.Stderr, "Convolves a WAV file with an impulse response from the asset root.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  irconvolve -root ./assets -ir hall -in dry.wav -out wet.wav\n")
		fmt.Fprintf(os.Stderr, "  irconvolve -block 128 -async -ir cabinet -in guitar.wav -out amp.wav\n")
		fmt.Fprintf(os.Stderr, "  irconvolve -root ./assets -info -ir hall\n")
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *info && *irName != "" {
		pool := asset.NewPool(asset.NewFileLoader(*root), asset.WithLogger(logger))
		if err := printInfo(context.Background(), os.Stdout, pool, *irName); err != nil {
			logger.Error("irconvolve: analysis failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if *irName == "" || *inPath == "" || *outPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := renderConfig{
		root:      *root,
		impulse:   *irName,
		input:     *inPath,
		output:    *outPath,
		blockSize: *block,
		async:     *async,
		options: node.ImpulseOptions{
			TrimThresholdDB: *trim,
			Normalize:       *normalize,
		},
	}

	if err := render(context.Background(), cfg, logger); err != nil {
		logger.Error("irconvolve: render failed", "error", err)
		os.Exit(1)
	}
}

type renderConfig struct {
	root      string
	impulse   string
	input     string
	output    string
	blockSize int
	async     bool
	options   node.ImpulseOptions
}

func render(ctx context.Context, cfg renderConfig, logger *slog.Logger) error {
	in, sampleRate, err := readWAV(cfg.input)
	if err != nil {
		return err
	}

	pool := asset.NewPool(asset.NewFileLoader(cfg.root), asset.WithLogger(logger))

	opts := []node.Option{
		node.WithLogger(logger),
		node.WithImpulseOptions(cfg.options),
	}
	if !cfg.async {
		opts = append(opts, node.WithSynchronousTail())
	}

	n := node.NewConvolution(pool, opts...)
	defer n.Close()

	if cfg.blockSize <= 0 {
		return fmt.Errorf("irconvolve: block size must be positive, got %d", cfg.blockSize)
	}
	proc := core.ApplyProcessorOptions(
		core.WithSampleRate(float64(sampleRate)),
		core.WithBlockSize(cfg.blockSize),
		core.WithChannels(len(in)),
	)
	if err := n.Prepare(proc.Channels, proc.SampleRate, proc.BlockSize); err != nil {
		return err
	}
	if err := n.SetImpulse(ctx, cfg.impulse); err != nil {
		return err
	}

	stats := n.Stats()
	logger.Info("irconvolve: impulse loaded",
		"impulse", stats.Impulse,
		"length", stats.Layout.Length,
		"layout", stats.Layout.String())

	frames := len(in[0]) + stats.Layout.Length
	out := make([][]float64, proc.Channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}

	buf := buffer.New(proc.Channels, proc.BlockSize)
	start := time.Now()
	for offset := 0; offset < frames; offset += proc.BlockSize {
		buf.CopyFrom(in, offset)
		if err := n.Process(buf.Channels()); err != nil {
			return fmt.Errorf("block at %d: %w", offset, err)
		}
		buf.CopyTo(out, offset, frames-offset)

		if cfg.async {
			waitIdle(ctx, n)
		}
	}

	stats = n.Stats()
	logger.Info("irconvolve: rendered",
		"frames", frames,
		"elapsed", time.Since(start),
		"missed", stats.Missed)

	return writeWAV(cfg.output, sampleRate, out)
}

// waitIdle paces offline rendering so the worker never falls behind.
func waitIdle(ctx context.Context, n *node.Convolution) {
	for !n.Idle() && ctx.Err() == nil {
		time.Sleep(50 * time.Microsecond)
	}
}

func readWAV(path string) ([][]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	channels, sampleRate, err := asset.DecodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	if len(channels) == 0 || len(channels[0]) == 0 {
		return nil, 0, fmt.Errorf("%s: no audio", path)
	}
	return channels, sampleRate, nil
}

func writeWAV(path string, sampleRate int, channels [][]float64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return asset.EncodeWAV(f, sampleRate, channels)
}
