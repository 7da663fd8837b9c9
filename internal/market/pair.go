package market

import (
	"context"
	"fmt"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
	"dexmirror/internal/pool"
	"dexmirror/internal/token"
)

// Layout describes one exchange's pool account: how to decode the primary
// state S and its auxiliary accounts A, and which accounts the primary links.
type Layout[S, A any] interface {
	DecodeState(data []byte) (S, error)
	DecodeAuxiliary(data []byte) (A, error)
	Resolve(primary address.Address, state S) (Links, error)
}

// Links are the sub-accounts a pair's primary state points at.
type Links struct {
	MintA     address.Address
	MintB     address.Address
	Auxiliary []address.Address
}

// Pair is a two-token market: the primary state account, both token mints and
// a variable number of auxiliary accounts such as tick arrays or an oracle.
// No exchange layout ships with this package; callers supply a Layout for the
// exchange they mirror.
type Pair[S, A any] struct {
	State     *account.Managed[S]
	MintA     *account.Managed[token.Mint]
	MintB     *account.Managed[token.Mint]
	Auxiliary []*account.Managed[A]
}

// NewPair fetches and decodes the primary state, resolves the linked accounts
// from it and fetches those in one batch. Only the primary is mandatory;
// missing mints or auxiliary accounts are reported and left uninitialized.
// Linked addresses that repeat an account fail construction.
func NewPair[S, A any](ctx context.Context, provider fetch.Provider, layout Layout[S, A], primary address.Address) (*Pair[S, A], pool.Failures, error) {
	if layout == nil {
		return nil, nil, fmt.Errorf("layout is nil")
	}

	state := account.New[S](primary, layout.DecodeState)
	results, failures, err := pool.Fetch(ctx, provider, []address.Address{primary}, kindsOf([]account.State{state}))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", pool.ErrPrimaryUnavailable, primary, err)
	}
	res, ok := results[primary]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s: %v", pool.ErrPrimaryUnavailable, primary, failureFor(failures, primary))
	}
	if err := state.Update(res.Data, res.Slot, res.ReceivedAt); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", pool.ErrPrimaryUnavailable, err)
	}

	decoded, _ := state.Get()
	links, err := layout.Resolve(primary, decoded)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", primary, err)
	}

	p := &Pair[S, A]{
		State:     state,
		MintA:     account.New(links.MintA, token.DecodeMint),
		MintB:     account.New(links.MintB, token.DecodeMint),
		Auxiliary: make([]*account.Managed[A], len(links.Auxiliary)),
	}
	for i, addr := range links.Auxiliary {
		p.Auxiliary[i] = account.New[A](addr, layout.DecodeAuxiliary)
	}
	if err := distinct(p.Accounts()); err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", primary, err)
	}

	linked := p.Accounts()[1:]
	results, failures, err = pool.Fetch(ctx, provider, pool.Addresses(linked), kindsOf(linked))
	if err != nil {
		return p, failAll(linked, err), nil
	}
	failures = append(failures, install(results, linked)...)
	return p, failures, nil
}

func (p *Pair[S, A]) Address() address.Address {
	return p.State.Address()
}

func (p *Pair[S, A]) Accounts() []account.State {
	out := make([]account.State, 0, len(p.Auxiliary)+3)
	out = append(out, p.State, p.MintA, p.MintB)
	for _, aux := range p.Auxiliary {
		out = append(out, aux)
	}
	return out
}

// Refresh fetches the primary and every linked account in one batch. The
// links resolved at construction are kept even if the refreshed primary
// state points elsewhere.
func (p *Pair[S, A]) Refresh(ctx context.Context, provider fetch.Provider) pool.Failures {
	return pool.RefreshAccounts(ctx, provider, p.Accounts())
}

// InitializedAuxiliary returns the auxiliary accounts that currently hold data.
func (p *Pair[S, A]) InitializedAuxiliary() []*account.Managed[A] {
	out := make([]*account.Managed[A], 0, len(p.Auxiliary))
	for _, aux := range p.Auxiliary {
		if aux.Initialized() {
			out = append(out, aux)
		}
	}
	return out
}

// Decimals returns both mints' decimals once both are initialized.
func (p *Pair[S, A]) Decimals() (uint8, uint8, bool) {
	a, okA := p.MintA.Get()
	b, okB := p.MintB.Get()
	if !okA || !okB {
		return 0, 0, false
	}
	return a.Decimals, b.Decimals, true
}
