package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
)

// Registry tracks pools of any kind by primary address.
type Registry struct {
	mu          sync.RWMutex
	handles     map[address.Address]Handle
	concurrency int
	logger      *zap.Logger
}

// NewRegistry builds an empty registry. concurrency bounds how many pools
// RefreshAll refreshes at once; values below one mean one.
func NewRegistry(concurrency int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Registry{
		handles:     make(map[address.Address]Handle),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Add registers p and returns its handle. Adding a second pool with the same
// primary address is an error.
func (r *Registry) Add(p Pool) (Handle, error) {
	h := NewHandle(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[h.Address()]; ok {
		return Handle{}, fmt.Errorf("pool %s already registered as %s", h.Address(), existing.Kind())
	}
	r.handles[h.Address()] = h
	return h, nil
}

func (r *Registry) Get(addr address.Address) (Handle, bool) {
	r.mu.RLock()
	h, ok := r.handles[addr]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) Remove(addr address.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[addr]; !ok {
		return false
	}
	delete(r.handles, addr)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Handles returns every handle ordered by address.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address(), out[j].Address()
		return string(a[:]) < string(b[:])
	})
	return out
}

// RefreshAll refreshes every registered pool and returns the failures of
// each pool that had any. It only returns an error if ctx is done.
func (r *Registry) RefreshAll(ctx context.Context, provider fetch.Provider) (map[address.Address]Failures, error) {
	handles := r.Handles()

	var mu sync.Mutex
	out := make(map[address.Address]Failures)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			failures := h.Refresh(gctx, provider)
			if len(failures) == 0 {
				return nil
			}
			r.logger.Debug("pool refresh partial",
				zap.String("pool", h.Address().String()),
				zap.String("kind", h.Kind()),
				zap.Int("failed", len(failures)),
				zap.Error(failures.Err()),
			)
			mu.Lock()
			out[h.Address()] = failures
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	r.logger.Info("registry refresh complete",
		zap.Int("pools", len(handles)),
		zap.Int("pools_with_failures", len(out)),
	)
	return out, nil
}
