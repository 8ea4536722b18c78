package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/conv"
	"github.com/cwbudde/algo-convolve/dsp/core"
)

// PropertyImpulse is the property that selects the impulse by identifier.
const PropertyImpulse = "File"

// Resolver looks up impulse responses by identifier. *asset.Pool
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, id string, c asset.Category) (*asset.Handle, error)
}

// Stats is a snapshot of the node state.
type Stats struct {
	Prepared   bool
	Channels   int
	BlockSize  int
	SampleRate float64
	Impulse    string    // name of the installed impulse, empty if none
	ImpulseID  uuid.UUID // identity of the installed impulse
	Layout     conv.Layout
	Missed     uint64 // tail deadlines missed since Prepare
}

// Convolution applies an impulse response to every channel of an audio
// stream with zero latency.
//
// Process must be called from a single goroutine and never blocks.
// SetProperty, SetImpulse and SetImpulseAsync may be called from any
// goroutine; the most recent request wins. Prepare and Close must not run
// concurrently with Process.
type Convolution struct {
	id       uuid.UUID
	cfg      config
	resolver Resolver
	worker   *conv.Worker

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	mu         sync.Mutex
	proc       core.ProcessorConfig
	channels   *ChannelArray // replaced only by Prepare and Close
	version    uint64        // bumped by every Prepare
	handle     *asset.Handle
	gen        uint64
	cancelLoad context.CancelFunc
}

// NewConvolution returns an unprepared node that resolves impulses through r.
func NewConvolution(r Resolver, opts ...Option) *Convolution {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	n := &Convolution{
		id:       uuid.New(),
		cfg:      cfg,
		resolver: r,
	}
	n.cfg.logger = cfg.logger.With("node", n.id.String())
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if !cfg.synchronous {
		n.worker = conv.NewWorker(conv.WithWorkerLogger(n.cfg.logger))
	}

	return n
}

// ID returns the node identity used in log records.
func (n *Convolution) ID() uuid.UUID {
	return n.id
}

// Prepare (re)builds the channel array for the given stream format. A loaded
// impulse is repartitioned for the new block size. When the impulse cannot
// be mapped onto numChannels, Prepare returns ErrConfiguration and the node
// stays prepared but silent.
func (n *Convolution) Prepare(numChannels int, sampleRate float64, blockSize int) error {
	proc := core.ProcessorConfig{SampleRate: sampleRate, BlockSize: blockSize, Channels: numChannels}
	if err := proc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.worker != nil {
		n.worker.Start(n.ctx)
	}

	a, err := NewChannelArray(proc, n.worker)
	if err != nil {
		return err
	}
	if n.channels != nil {
		n.channels.Close()
	}
	n.channels = a
	n.proc = proc
	n.version++

	n.cfg.logger.Debug("node: prepared",
		"channels", numChannels, "sample_rate", sampleRate, "block_size", blockSize)

	if n.handle == nil {
		return nil
	}

	kernels, err := buildKernels(n.ctx, n.handle.IR(), proc, n.cfg.impulse, n.cfg.maxPartition)
	if err != nil {
		n.cfg.logger.Warn("node: impulse unusable after prepare",
			"impulse", n.handle.IR().Name(), "error", err)
		return err
	}
	return a.Install(n.ctx, kernels)
}

// Process convolves one block per channel in place. It returns
// ErrConfiguration and leaves buffers untouched when the channel count or a
// block length does not match Prepare.
func (n *Convolution) Process(buffers [][]float64) error {
	a := n.channels
	if a == nil {
		return conv.ErrNotPrepared
	}
	return a.Process(buffers)
}

// SetProperty sets a node property. PropertyImpulse takes a string
// identifier; the empty string clears the impulse.
func (n *Convolution) SetProperty(name string, value any) error {
	if name != PropertyImpulse {
		return fmt.Errorf("%w: unknown property %q", ErrConfiguration, name)
	}

	id, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: property %q wants a string, got %T", ErrConfiguration, name, value)
	}
	if id == "" {
		n.ClearImpulse()
		return nil
	}
	return n.SetImpulse(context.Background(), id)
}

// SetImpulse resolves id, prepares it for the current stream format and
// installs it. On failure the previous impulse stays in place. A call that
// is overtaken by a newer request returns ErrSuperseded.
func (n *Convolution) SetImpulse(ctx context.Context, id string) error {
	ctx, gen, done := n.begin(ctx)
	defer done()
	return n.load(ctx, gen, id)
}

// SetImpulseAsync is like SetImpulse but returns immediately. Failures are
// logged and passed to the ErrorHandler. It must not race with Close.
func (n *Convolution) SetImpulseAsync(id string) {
	n.mu.Lock()
	base := n.ctx
	n.mu.Unlock()

	ctx, gen, done := n.begin(base)

	n.loads.Add(1)
	go func() {
		defer n.loads.Done()
		defer done()

		err := n.load(ctx, gen, id)
		if err == nil || errors.Is(err, ErrSuperseded) {
			return
		}
		if n.cfg.onError != nil {
			n.cfg.onError(err)
		}
	}()
}

// ClearImpulse cancels pending loads and removes the impulse. The node
// renders silence afterwards.
func (n *Convolution) ClearImpulse() {
	_, gen, done := n.begin(context.Background())
	defer done()

	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	old := n.handle
	n.handle = nil
	if n.channels != nil {
		_ = n.channels.Install(context.Background(), nil)
	}
	n.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// begin starts a new impulse request, cancelling the one in flight.
func (n *Convolution) begin(parent context.Context) (context.Context, uint64, context.CancelFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancelLoad != nil {
		n.cancelLoad()
	}

	ctx, cancel := context.WithCancel(parent)
	n.gen++
	n.cancelLoad = cancel

	return ctx, n.gen, cancel
}

func (n *Convolution) current(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.gen
}

func (n *Convolution) load(ctx context.Context, gen uint64, id string) error {
	log := n.cfg.logger.With("impulse", id)

	h, err := n.resolver.Resolve(ctx, id, n.cfg.category)
	if err != nil {
		if !n.current(gen) {
			return ErrSuperseded
		}
		if !errors.Is(err, ErrResourceLoad) {
			err = &asset.LoadError{Ref: asset.NewReference(id, n.cfg.category), Err: err}
		}
		log.Warn("node: impulse load failed", "error", err)
		return err
	}

	if err := n.install(ctx, gen, h); err != nil {
		h.Release()
		if !errors.Is(err, ErrSuperseded) {
			log.Warn("node: impulse rejected", "error", err)
		}
		return err
	}

	log.Info("node: impulse installed",
		"id", h.IR().ID().String(),
		"channels", h.IR().NumChannels(),
		"samples", h.IR().Len())
	return nil
}

// install partitions h for the current stream format and swaps it in. The
// kernels are rebuilt when Prepare runs in the meantime.
func (n *Convolution) install(ctx context.Context, gen uint64, h *asset.Handle) error {
	for {
		n.mu.Lock()
		if gen != n.gen {
			n.mu.Unlock()
			return ErrSuperseded
		}
		proc, version, prepared := n.proc, n.version, n.channels != nil
		n.mu.Unlock()

		var kernels []*conv.Kernel
		if prepared {
			var err error
			kernels, err = buildKernels(ctx, h.IR(), proc, n.cfg.impulse, n.cfg.maxPartition)
			if err != nil {
				if !n.current(gen) {
					return ErrSuperseded
				}
				return err
			}
		}

		n.mu.Lock()
		if gen != n.gen {
			n.mu.Unlock()
			return ErrSuperseded
		}
		if version != n.version {
			n.mu.Unlock()
			continue
		}

		if n.channels != nil {
			if err := n.channels.Install(ctx, kernels); err != nil {
				n.mu.Unlock()
				return err
			}
		}
		old := n.handle
		n.handle = h
		n.mu.Unlock()

		if old != nil {
			old.Release()
		}
		return nil
	}
}

// Impulse returns the name of the installed impulse, or "".
func (n *Convolution) Impulse() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.handle == nil {
		return ""
	}
	return n.handle.IR().Name()
}

// Stats returns a snapshot of the node state.
func (n *Convolution) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Stats{
		Prepared:   n.channels != nil,
		Channels:   n.proc.Channels,
		BlockSize:  n.proc.BlockSize,
		SampleRate: n.proc.SampleRate,
	}
	if n.handle != nil {
		s.Impulse = n.handle.IR().Name()
		s.ImpulseID = n.handle.IR().ID()
	}
	if n.channels != nil {
		s.Layout = n.channels.Layout()
		s.Missed = n.channels.Missed()
	}
	return s
}

// Idle reports whether the background worker has finished all submitted
// tail work. It is always true with WithSynchronousTail.
func (n *Convolution) Idle() bool {
	return n.worker == nil || n.worker.Idle()
}

// Reset clears the convolution history of every channel. It takes effect at
// the next Process call unless a kernel swap is still catching up.
func (n *Convolution) Reset() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channels == nil {
		return nil
	}
	return n.channels.Reset()
}

// Close cancels pending loads, stops the worker and releases the impulse.
// The node can be prepared again afterwards; the impulse must be set anew.
func (n *Convolution) Close() error {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()

	cancel()
	n.loads.Wait()

	n.mu.Lock()
	n.gen++
	if n.channels != nil {
		n.channels.Close()
		n.channels = nil
	}
	old := n.handle
	n.handle = nil
	n.proc = core.ProcessorConfig{}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.mu.Unlock()

	if n.worker != nil {
		n.worker.Close()
	}
	if old != nil {
		old.Release()
	}

	n.cfg.logger.Debug("node: closed")
	return nil
}
