package pool

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
)

// ErrPrimaryUnavailable is returned when a pool's primary account cannot be
// fetched or decoded during construction.
var ErrPrimaryUnavailable = errors.New("primary account unavailable")

// Pool is a fixed set of managed accounts that together describe one market.
type Pool interface {
	// Address is the primary account identifying the market.
	Address() address.Address
	// Accounts lists every managed account in a stable order. The set is
	// fixed at construction.
	Accounts() []account.State
	// Refresh re-fetches every account in one batch and returns the accounts
	// that could not be updated this round.
	Refresh(ctx context.Context, provider fetch.Provider) Failures
}

// Failure records one account that could not be fetched or decoded.
type Failure struct {
	Address address.Address
	Kind    string
	Err     error
}

func (f Failure) Error() string {
	if f.Kind == "" {
		return fmt.Sprintf("%s: %v", f.Address, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Kind, f.Address, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Failures is the per-address failure list of a construction or refresh.
type Failures []Failure

// Addresses returns the failed addresses in order.
func (fs Failures) Addresses() []address.Address {
	out := make([]address.Address, len(fs))
	for i, f := range fs {
		out[i] = f.Address
	}
	return out
}

// Err combines all failures, or returns nil if there are none.
func (fs Failures) Err() error {
	var err error
	for _, f := range fs {
		err = multierr.Append(err, f)
	}
	return err
}

// Addresses lists the addresses of accounts in order.
func Addresses(accounts []account.State) []address.Address {
	out := make([]address.Address, len(accounts))
	for i, acc := range accounts {
		out[i] = acc.Address()
	}
	return out
}
