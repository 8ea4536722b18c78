package node

import (
	"log/slog"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/conv"
)

type config struct {
	logger       *slog.Logger
	onError      ErrorHandler
	category     asset.Category
	impulse      ImpulseOptions
	maxPartition int
	synchronous  bool
}

func defaultConfig() config {
	return config{
		logger:       slog.Default(),
		category:     asset.AudioFiles,
		maxPartition: conv.DefaultMaxPartition,
	}
}

// Option configures a Convolution node.
type Option func(*config)

// WithLogger sets the node logger. The worker logs through it as well.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithErrorHandler receives errors from SetImpulseAsync. Superseded loads
// are not reported.
func WithErrorHandler(h ErrorHandler) Option {
	return func(cfg *config) {
		cfg.onError = h
	}
}

// WithCategory sets the category impulse identifiers are resolved in.
// The default is asset.AudioFiles.
func WithCategory(c asset.Category) Option {
	return func(cfg *config) {
		cfg.category = c
	}
}

// WithImpulseOptions sets the preprocessing applied to every impulse.
func WithImpulseOptions(o ImpulseOptions) Option {
	return func(cfg *config) {
		cfg.impulse = o
	}
}

// WithMaxPartition caps the tail partition size in samples.
func WithMaxPartition(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxPartition = n
		}
	}
}

// WithSynchronousTail computes the tail on the audio thread instead of a
// background worker. Output becomes deterministic, which suits offline
// rendering.
func WithSynchronousTail() Option {
	return func(cfg *config) {
		cfg.synchronous = true
	}
}
