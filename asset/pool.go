package asset

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"weak"
)

// Policy controls caching when a reference is loaded.
type Policy int

const (
	// LoadAndCacheWeak reuses a cached entry and otherwise loads and caches
	// it weakly.
	LoadAndCacheWeak Policy = iota
	// LoadAndCacheStrong is like LoadAndCacheWeak but pins the entry until
	// it is evicted.
	LoadAndCacheStrong
	// ForceReloadWeak always loads and replaces the cached entry.
	ForceReloadWeak
	// ForceReloadStrong always loads, replaces and pins the entry.
	ForceReloadStrong
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case LoadAndCacheWeak:
		return "LoadAndCacheWeak"
	case LoadAndCacheStrong:
		return "LoadAndCacheStrong"
	case ForceReloadWeak:
		return "ForceReloadWeak"
	case ForceReloadStrong:
		return "ForceReloadStrong"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func (p Policy) strong() bool { return p == LoadAndCacheStrong || p == ForceReloadStrong }
func (p Policy) reload() bool { return p == ForceReloadWeak || p == ForceReloadStrong }

// Stats is a snapshot of pool usage.
type Stats struct {
	Entries int    // cached references, live or awaiting collection
	Live    int    // entries whose impulse is still reachable
	Strong  int    // pinned entries
	Handles int    // outstanding handles
	Loads   uint64 // loader calls that succeeded
	Hits    uint64 // loads served from the cache
	Failed  uint64 // loader calls that failed
}

type entry struct {
	weak   weak.Pointer[ImpulseResponse]
	strong *ImpulseResponse
	refs   int
}

func (e *entry) value() *ImpulseResponse {
	if e.strong != nil {
		return e.strong
	}
	return e.weak.Value()
}

// Pool caches impulse responses by reference.
type Pool struct {
	loader Loader
	logger *slog.Logger
	policy Policy

	mu      sync.Mutex
	entries map[Reference]*entry
	loads   uint64
	hits    uint64
	failed  uint64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger. The default is slog.Default().
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPolicy sets the policy used by Resolve. The default is
// LoadAndCacheWeak.
func WithPolicy(policy Policy) PoolOption {
	return func(p *Pool) {
		p.policy = policy
	}
}

// NewPool returns an empty pool backed by loader.
func NewPool(loader Loader, opts ...PoolOption) *Pool {
	p := &Pool{
		loader:  loader,
		logger:  slog.Default(),
		policy:  LoadAndCacheWeak,
		entries: make(map[Reference]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Resolve loads id in category c with the pool's default policy.
func (p *Pool) Resolve(ctx context.Context, id string, c Category) (*Handle, error) {
	return p.Load(ctx, NewReference(id, c), p.policy)
}

// Load returns a handle to the impulse for ref, consulting the cache as
// policy allows. Errors match ErrResourceLoad.
func (p *Pool) Load(ctx context.Context, ref Reference, policy Policy) (*Handle, error) {
	if ref.ID == "" {
		return nil, loadError(ref, ErrNotFound)
	}

	if !policy.reload() {
		if h := p.cached(ref, policy); h != nil {
			return h, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, loadError(ref, err)
	}

	ir, err := p.loader.Load(ctx, ref)
	if err == nil && ir == nil {
		err = ErrNotFound
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()

		p.logger.Warn("asset: load failed", "ref", ref.String(), "policy", policy.String(), "error", err)
		return nil, loadError(ref, err)
	}

	p.mu.Lock()
	p.loads++
	e := p.entries[ref]
	if e == nil {
		e = &entry{}
		p.entries[ref] = e
	} else if cur := e.value(); cur != nil && !policy.reload() {
		// A concurrent load filled the entry first.
		if policy.strong() {
			e.strong = cur
		}
		e.refs++
		p.mu.Unlock()
		return &Handle{pool: p, ref: ref, ir: cur}, nil
	}
	e.weak = weak.Make(ir)
	if policy.strong() || e.strong != nil {
		e.strong = ir
	}
	// Handles to a replaced impulse are no longer counted.
	e.refs = 1
	p.mu.Unlock()

	runtime.AddCleanup(ir, p.collected, ref)

	p.logger.Debug("asset: loaded",
		"ref", ref.String(),
		"id", ir.ID().String(),
		"channels", ir.NumChannels(),
		"samples", ir.Len(),
		"sample_rate", ir.SampleRate())

	return &Handle{pool: p, ref: ref, ir: ir}, nil
}

func (p *Pool) cached(ref Reference, policy Policy) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entries[ref]
	if e == nil {
		return nil
	}
	ir := e.value()
	if ir == nil {
		return nil
	}

	if policy.strong() {
		e.strong = ir
	}
	e.refs++
	p.hits++

	return &Handle{pool: p, ref: ref, ir: ir}
}

func (p *Pool) acquire(ref Reference, ir *ImpulseResponse) *Handle {
	p.mu.Lock()
	if e := p.entries[ref]; e != nil && e.weak.Value() == ir {
		e.refs++
	}
	p.mu.Unlock()

	return &Handle{pool: p, ref: ref, ir: ir}
}

func (p *Pool) release(ref Reference, ir *ImpulseResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.entries[ref]; e != nil && e.refs > 0 && e.weak.Value() == ir {
		e.refs--
	}
}

// collected runs after an impulse has been garbage collected.
func (p *Pool) collected(ref Reference) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.entries[ref]; e != nil && e.value() == nil {
		delete(p.entries, ref)
	}
}

// Refs returns the number of outstanding handles to the impulse currently
// cached for ref.
func (p *Pool) Refs(ref Reference) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.entries[ref]; e != nil {
		return e.refs
	}
	return 0
}

// Evict unpins ref and forgets it, so the next load goes to the loader.
// Outstanding handles stay valid.
func (p *Pool) Evict(ref Reference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, ref)
}

// Clear evicts every entry.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.entries)
}

// Stats returns a usage snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Entries: len(p.entries),
		Loads:   p.loads,
		Hits:    p.hits,
		Failed:  p.failed,
	}
	for _, e := range p.entries {
		if e.value() != nil {
			s.Live++
		}
		if e.strong != nil {
			s.Strong++
		}
		s.Handles += e.refs
	}
	return s
}
