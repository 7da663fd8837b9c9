package market

import (
	"context"
	"fmt"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
	"dexmirror/internal/pool"
)

// Set is a pool whose full address list is known up front and whose accounts
// all share one decoder.
type Set[T any] struct {
	Primary *account.Managed[T]
	Members []*account.Managed[T]
}

var _ pool.Pool = (*Set[[]byte])(nil)

// NewSet fetches primary and members in one batch. A primary that cannot be
// fetched or decoded fails construction; member failures are returned and the
// member stays uninitialized. Every address must be distinct.
func NewSet[T any](ctx context.Context, provider fetch.Provider, decode account.Decoder[T], primary address.Address, members ...address.Address) (*Set[T], pool.Failures, error) {
	s := &Set[T]{
		Primary: account.New(primary, decode),
		Members: make([]*account.Managed[T], len(members)),
	}
	for i, addr := range members {
		s.Members[i] = account.New(addr, decode)
	}
	if err := distinct(s.Accounts()); err != nil {
		return nil, nil, err
	}

	results, failures, err := pool.Fetch(ctx, provider, pool.Addresses(s.Accounts()), kindsOf(s.Accounts()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", pool.ErrPrimaryUnavailable, primary, err)
	}

	res, ok := results[primary]
	if !ok {
		return nil, failures, fmt.Errorf("%w: %s: %v", pool.ErrPrimaryUnavailable, primary, failureFor(failures, primary))
	}
	if err := s.Primary.Update(res.Data, res.Slot, res.ReceivedAt); err != nil {
		return nil, failures, fmt.Errorf("%w: %v", pool.ErrPrimaryUnavailable, err)
	}

	failures = dropAddress(failures, primary)
	failures = append(failures, install(results, s.memberStates())...)
	return s, failures, nil
}

func (s *Set[T]) Address() address.Address {
	return s.Primary.Address()
}

func (s *Set[T]) Accounts() []account.State {
	out := make([]account.State, 0, len(s.Members)+1)
	out = append(out, s.Primary)
	return append(out, s.memberStates()...)
}

func (s *Set[T]) Refresh(ctx context.Context, provider fetch.Provider) pool.Failures {
	return pool.RefreshAccounts(ctx, provider, s.Accounts())
}

func (s *Set[T]) memberStates() []account.State {
	out := make([]account.State, len(s.Members))
	for i, m := range s.Members {
		out[i] = m
	}
	return out
}
