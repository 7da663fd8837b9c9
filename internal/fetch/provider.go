package fetch

import (
	"context"
	"errors"
	"time"

	"dexmirror/internal/address"
)

// ErrAccountNotFound marks an address that does not exist on the ledger.
var ErrAccountNotFound = errors.New("account not found")

// Result is the outcome of fetching one address.
type Result struct {
	Address address.Address
	Data    []byte
	// Slot is the ledger slot the data was observed at.
	Slot uint64
	// ReceivedAt approximates when the data was read at the source.
	ReceivedAt time.Time
	// Err is set when this address could not be fetched; Data is then nil.
	Err error
}

// Provider fetches raw account data for a batch of addresses.
//
// Implementations return exactly one Result per requested address, in request
// order, and report per-address failures through Result.Err. A non-nil error
// means the call produced no usable results at all. Providers must be safe for
// concurrent use.
type Provider interface {
	GetMultipleAccounts(ctx context.Context, addresses []address.Address) ([]Result, error)
}

// Failed builds a failed result for every address.
func Failed(addresses []address.Address, err error) []Result {
	out := make([]Result, len(addresses))
	for i, addr := range addresses {
		out[i] = Result{Address: addr, Err: err}
	}
	return out
}
