package gas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPollInterval separates poll ticks while waiters are pending.
	DefaultPollInterval = 30 * time.Second
	// DefaultWaitTimeout bounds a wait when the caller gives no timeout.
	DefaultWaitTimeout = 24 * time.Hour
)

var (
	// ErrTimeout is returned to a waiter whose deadline passed before the fee dropped.
	ErrTimeout = errors.New("gas: timeout waiting for fee price")
	// ErrGateClosed is returned to waiters pending when the gate closes, and to later callers.
	ErrGateClosed = errors.New("gas: gate closed")
)

// GateOptions tune polling.
type GateOptions struct {
	PollInterval   time.Duration
	DefaultTimeout time.Duration
}

type gateState int

const (
	stateIdle gateState = iota
	statePolling
	stateClosed
)

type waitResult struct {
	sample Sample
	err    error
}

type waiter struct {
	threshold decimal.Decimal
	deadline  time.Time
	done      chan waitResult
}

// Gate lets any number of callers wait for the fee price to fall to a threshold while a single
// background loop polls the sampler. The loop only runs while waiters are pending.
type Gate struct {
	sampler Sampler
	opts    GateOptions
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   gateState
	pending map[*waiter]struct{}
	stop    chan struct{}
	loopWG  sync.WaitGroup
}

// NewGate builds a gate polling sampler.
func NewGate(sampler Sampler, opts GateOptions, logger zerolog.Logger) (*Gate, error) {
	if sampler == nil {
		return nil, errors.New("gas: sampler is required")
	}
	if opts.PollInterval < 0 || opts.DefaultTimeout < 0 {
		return nil, fmt.Errorf("gas: poll interval and timeout cannot be negative")
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultWaitTimeout
	}
	return &Gate{
		sampler: sampler,
		opts:    opts,
		logger:  logger.With().Str("component", "gas_gate").Logger(),
		now:     time.Now,
		pending: make(map[*waiter]struct{}),
		stop:    make(chan struct{}),
	}, nil
}

// WaitFor blocks until the sampled fee in gwei is <= threshold, the timeout elapses, ctx ends or the
// gate closes. A zero threshold disables waiting: one sample is fetched and returned directly.
// A non-positive timeout selects the gate's default.
func (g *Gate) WaitFor(ctx context.Context, threshold decimal.Decimal, timeout time.Duration) (Sample, error) {
	if threshold.IsZero() {
		return g.sampler.FetchSample(ctx)
	}
	if timeout <= 0 {
		timeout = g.opts.DefaultTimeout
	}

	w := &waiter{
		threshold: threshold,
		deadline:  g.now().Add(timeout),
		done:      make(chan waitResult, 1),
	}
	if err := g.add(w); err != nil {
		return Sample{}, err
	}

	g.logger.Info().Str("max_gwei", threshold.String()).Msg("waiting for gas price")

	select {
	case res := <-w.done:
		return res.sample, res.err
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, w)
		g.mu.Unlock()
		// The loop may have decided the waiter just before removal.
		select {
		case res := <-w.done:
			return res.sample, res.err
		default:
		}
		return Sample{}, ctx.Err()
	}
}

// Pending reports the number of waiters not yet decided.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Close stops the poll loop and fails every pending waiter with ErrGateClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.state == stateClosed {
		g.mu.Unlock()
		return
	}
	g.state = stateClosed
	close(g.stop)
	for w := range g.pending {
		w.done <- waitResult{err: ErrGateClosed}
		delete(g.pending, w)
	}
	g.mu.Unlock()

	g.loopWG.Wait()
}

func (g *Gate) add(w *waiter) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateClosed {
		return ErrGateClosed
	}
	g.pending[w] = struct{}{}
	if g.state == stateIdle {
		g.state = statePolling
		g.loopWG.Add(1)
		go g.loop()
	}
	return nil
}

func (g *Gate) loop() {
	defer g.loopWG.Done()

	for {
		g.tick()

		g.mu.Lock()
		if g.state == stateClosed {
			g.mu.Unlock()
			return
		}
		if len(g.pending) == 0 {
			g.state = stateIdle
			g.mu.Unlock()
			g.logger.Debug().Msg("no pending waiters; polling stopped")
			return
		}
		g.mu.Unlock()

		timer := time.NewTimer(g.opts.PollInterval)
		select {
		case <-g.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (g *Gate) tick() {
	g.mu.Lock()
	snapshot := make([]*waiter, 0, len(g.pending))
	for w := range g.pending {
		snapshot = append(snapshot, w)
	}
	g.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	sample, err := g.sampler.FetchSample(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Int("pending", len(snapshot)).Msg("poll fees error")
		return
	}

	now := g.now()
	resolved, expired := 0, 0

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range snapshot {
		if _, ok := g.pending[w]; !ok {
			continue
		}
		if now.After(w.deadline) {
			w.done <- waitResult{err: fmt.Errorf("%w below %s gwei", ErrTimeout, w.threshold)}
			delete(g.pending, w)
			expired++
			continue
		}
		if sample.Gwei.LessThanOrEqual(w.threshold) {
			w.done <- waitResult{sample: sample}
			delete(g.pending, w)
			resolved++
		}
	}

	g.logger.Debug().
		Str("gwei", sample.Gwei.String()).
		Int("resolved", resolved).
		Int("expired", expired).
		Int("pending", len(g.pending)).
		Msg("poll tick")
}
