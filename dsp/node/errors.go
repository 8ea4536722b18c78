package node

import (
	"errors"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/conv"
)

var (
	// ErrConfiguration reports invalid prepare parameters, mismatched
	// buffers or an impulse whose channel count cannot be mapped.
	ErrConfiguration = conv.ErrConfiguration

	// ErrResourceLoad reports an impulse that could not be resolved.
	ErrResourceLoad = asset.ErrResourceLoad

	// ErrSuperseded is returned by an impulse load that lost to a newer
	// request before it could be installed.
	ErrSuperseded = errors.New("node: impulse load superseded")
)

// ErrorHandler receives errors from asynchronous impulse loads.
type ErrorHandler func(error)
