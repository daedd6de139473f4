// Package source defines the signal source contract and the adapters that
// wrap each predictive model. Every source is opaque to the engine: it
// returns a direction and a confidence, or abstains.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Source is one predictive input to the consensus vote.
type Source interface {
	// ID returns the configured identifier used for vote weighting.
	ID() string
	// Score returns the source's opinion for the symbol, or
	// domain.ErrNoOpinion when it abstains.
	Score(ctx context.Context, mctx domain.MarketContext) (domain.Signal, error)
}

// Registry manages the configured sources. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]Source
	onFailure func(sourceID string)
}

// OnFailure registers a callback invoked when a source errors or times out
// during Collect. Abstentions do not count as failures. Used for metrics.
func (r *Registry) OnFailure(fn func(sourceID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source under its own ID, replacing any previous entry.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID()] = s
}

// Get retrieves a source by ID.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %q: not registered", id)
	}
	return s, nil
}

// All returns every registered source in stable ID order.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.sources[id])
	}
	return out
}

// Collect fans out to every registered source concurrently and gathers the
// signals that arrived within the per-call timeout. A source that times out,
// errors, or abstains simply does not appear in the result; it carries zero
// weight for the cycle instead of aborting it. The deadline is enforced here,
// not in the source: a Score that ignores its context is abandoned at the
// timeout and its goroutine drains into a buffered channel when it eventually
// returns.
func (r *Registry) Collect(ctx context.Context, mctx domain.MarketContext, timeout time.Duration, logger *slog.Logger) []domain.Signal {
	sources := r.All()

	type outcome struct {
		signal domain.Signal
		err    error
	}
	type call struct {
		id   string
		ctx  context.Context
		done chan outcome
	}

	calls := make([]*call, 0, len(sources))
	for _, s := range sources {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		c := &call{id: s.ID(), ctx: callCtx, done: make(chan outcome, 1)}
		go func(s Source) {
			defer cancel()
			sig, err := s.Score(callCtx, mctx)
			c.done <- outcome{signal: sig, err: err}
		}(s)
		calls = append(calls, c)
	}

	signals := make([]domain.Signal, 0, len(sources))
	r.mu.RLock()
	onFailure := r.onFailure
	r.mu.RUnlock()

	for _, c := range calls {
		var res outcome
		select {
		case res = <-c.done:
		case <-c.ctx.Done():
			// One last non-blocking read catches a source that finished
			// right at the deadline.
			select {
			case res = <-c.done:
			default:
				res = outcome{err: c.ctx.Err()}
			}
		}

		if res.err != nil {
			if onFailure != nil && !errors.Is(res.err, domain.ErrNoOpinion) {
				onFailure(c.id)
			}
			logger.Warn("source produced no signal",
				slog.String("source", c.id),
				slog.String("symbol", mctx.Symbol),
				slog.String("error", res.err.Error()),
			)
			continue
		}
		sig := res.signal
		sig.SourceID = c.id
		sig.Symbol = mctx.Symbol
		if sig.Confidence < 0 {
			sig.Confidence = 0
		}
		if sig.Confidence > 1 {
			sig.Confidence = 1
		}
		signals = append(signals, sig)
	}
	return signals
}
