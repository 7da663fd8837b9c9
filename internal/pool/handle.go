package pool

import (
	"context"
	"errors"
	"fmt"

	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
)

// ErrEmptyHandle is reported when refreshing a zero Handle.
var ErrEmptyHandle = errors.New("empty pool handle")

// Handle stores any concrete Pool behind one type so pools of different
// exchanges can share a collection. Use As to get the concrete pool back.
// The zero Handle wraps nothing: it has the zero address and fails to refresh.
type Handle struct {
	pool Pool
	kind string
}

// NewHandle wraps p. It panics if p is nil.
func NewHandle(p Pool) Handle {
	if p == nil {
		panic("pool: nil pool")
	}
	return Handle{pool: p, kind: fmt.Sprintf("%T", p)}
}

func (h Handle) Address() address.Address {
	if h.pool == nil {
		return address.Address{}
	}
	return h.pool.Address()
}

// Kind is the concrete type name of the wrapped pool.
func (h Handle) Kind() string {
	return h.kind
}

func (h Handle) Pool() Pool {
	return h.pool
}

func (h Handle) Refresh(ctx context.Context, provider fetch.Provider) Failures {
	if h.pool == nil {
		return Failures{{Err: ErrEmptyHandle}}
	}
	return h.pool.Refresh(ctx, provider)
}

// As returns the wrapped pool if it is exactly of type T.
func As[T Pool](h Handle) (T, bool) {
	p, ok := h.pool.(T)
	return p, ok
}
