package conv

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Worker computes the tail stages of one or more engines on a background
// goroutine. The real-time thread never blocks on it: work is published
// through atomic counters and a non-blocking wake-up.
//
// A Worker must be started before its engines process audio; until then
// submitted chunks queue up and are reported as missed.
type Worker struct {
	logger *slog.Logger
	wake   chan struct{}

	regMu  sync.Mutex
	stages atomic.Pointer[[]*tailStage]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger used for deadline misses and FFT
// failures. The default is slog.Default().
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker returns an idle worker. Call Start to launch its goroutine.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	empty := []*tailStage{}
	w.stages.Store(&empty)

	return w
}

// Start launches the worker goroutine. It stops when ctx is done or Close
// is called. Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.done != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx, w.done)
}

// Close stops the goroutine and waits for it to exit. Pending chunks are
// abandoned.
func (w *Worker) Close() {
	w.runMu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Idle reports whether every live stage has processed all submitted chunks.
func (w *Worker) Idle() bool {
	for _, t := range *w.stages.Load() {
		if t.owner.live.Load() && !t.owner.retired.Load() && !t.idle() {
			return false
		}
	}
	return true
}

func (w *Worker) register(stages []*tailStage) {
	if len(stages) == 0 {
		return
	}

	w.regMu.Lock()
	defer w.regMu.Unlock()

	cur := *w.stages.Load()
	next := make([]*tailStage, 0, len(cur)+len(stages))
	for _, t := range cur {
		if !t.owner.retired.Load() {
			next = append(next, t)
		}
	}
	next = append(next, stages...)
	w.stages.Store(&next)
}

// prune drops stages whose engine state has been retired.
func (w *Worker) prune() {
	w.regMu.Lock()
	defer w.regMu.Unlock()

	cur := *w.stages.Load()
	if !slices.ContainsFunc(cur, func(t *tailStage) bool { return t.owner.retired.Load() }) {
		return
	}

	next := slices.DeleteFunc(slices.Clone(cur), func(t *tailStage) bool {
		return t.owner.retired.Load()
	})
	w.stages.Store(&next)
}

// notify wakes the worker without blocking.
func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		retired := false
		for _, t := range *w.stages.Load() {
			if t.owner.retired.Load() {
				retired = true
				continue
			}
			if !t.owner.live.Load() {
				continue
			}

			if err := t.drain(); err != nil {
				w.logger.Error("conv: tail stage failed",
					"partition", t.conv.partSize, "error", err)
			}

			if n := t.missed.Load(); n != t.reported {
				w.logger.Warn("conv: tail stage missed deadline",
					"partition", t.conv.partSize,
					"missed", n-t.reported,
					"total", n)
				t.reported = n
			}
		}

		if retired {
			w.prune()
		}
	}
}
