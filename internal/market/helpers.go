package market

import (
	"errors"
	"fmt"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
	"dexmirror/internal/pool"
)

// ErrDuplicateAddress is returned when a pool would manage the same account
// twice.
var ErrDuplicateAddress = errors.New("duplicate account address")

func distinct(accounts []account.State) error {
	seen := make(map[address.Address]struct{}, len(accounts))
	for _, acc := range accounts {
		if _, ok := seen[acc.Address()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, acc.Address())
		}
		seen[acc.Address()] = struct{}{}
	}
	return nil
}

func kindsOf(accounts []account.State) map[address.Address]string {
	out := make(map[address.Address]string, len(accounts))
	for _, acc := range accounts {
		out[acc.Address()] = acc.Kind()
	}
	return out
}

// install decodes fetched results into accounts. Accounts without a result
// were already reported by the fetch and are skipped.
func install(results map[address.Address]fetch.Result, accounts []account.State) pool.Failures {
	var failures pool.Failures
	for _, acc := range accounts {
		res, ok := results[acc.Address()]
		if !ok {
			continue
		}
		if err := acc.Update(res.Data, res.Slot, res.ReceivedAt); err != nil {
			failures = append(failures, pool.Failure{Address: acc.Address(), Kind: acc.Kind(), Err: err})
		}
	}
	return failures
}

func failureFor(failures pool.Failures, addr address.Address) error {
	for _, f := range failures {
		if f.Address == addr {
			return f.Err
		}
	}
	return fmt.Errorf("no result")
}

func dropAddress(failures pool.Failures, addr address.Address) pool.Failures {
	out := failures[:0]
	for _, f := range failures {
		if f.Address != addr {
			out = append(out, f)
		}
	}
	return out
}

func failAll(accounts []account.State, err error) pool.Failures {
	failures := make(pool.Failures, len(accounts))
	for i, acc := range accounts {
		failures[i] = pool.Failure{Address: acc.Address(), Kind: acc.Kind(), Err: err}
	}
	return failures
}
