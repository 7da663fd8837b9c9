package pool

import (
	"context"
	"fmt"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
)

// RefreshAccounts runs the batched refresh protocol over accounts.
//
// All addresses are requested in a single provider call. Each successful
// result is decoded and installed into its account as soon as it is
// processed; failed addresses keep their previous snapshot. Accounts of one
// pool may therefore end up at different slots, and concurrent refreshes of
// the same accounts are not serialized.
//
// If the provider call fails as a whole, or ctx is done by the time results
// arrive, nothing is installed and every address is reported.
func RefreshAccounts(ctx context.Context, provider fetch.Provider, accounts []account.State) Failures {
	if len(accounts) == 0 {
		return nil
	}
	if provider == nil {
		return failAll(accounts, fmt.Errorf("provider is nil"))
	}

	addresses := Addresses(accounts)
	results, err := provider.GetMultipleAccounts(ctx, addresses)
	if err != nil {
		return failAll(accounts, err)
	}
	if err := ctx.Err(); err != nil {
		return failAll(accounts, err)
	}

	byAddress, err := index(addresses, results)
	if err != nil {
		return failAll(accounts, err)
	}

	var failures Failures
	for _, acc := range accounts {
		res := byAddress[acc.Address()]
		if res.Err != nil {
			failures = append(failures, Failure{Address: acc.Address(), Kind: acc.Kind(), Err: res.Err})
			continue
		}
		if err := acc.Update(res.Data, res.Slot, res.ReceivedAt); err != nil {
			failures = append(failures, Failure{Address: acc.Address(), Kind: acc.Kind(), Err: err})
		}
	}
	return failures
}

// Fetch requests addresses in one provider call and returns the successful
// results keyed by address together with the failures. kinds, if non-nil,
// labels each failure.
func Fetch(ctx context.Context, provider fetch.Provider, addresses []address.Address, kinds map[address.Address]string) (map[address.Address]fetch.Result, Failures, error) {
	if provider == nil {
		return nil, nil, fmt.Errorf("provider is nil")
	}
	if len(addresses) == 0 {
		return map[address.Address]fetch.Result{}, nil, nil
	}

	results, err := provider.GetMultipleAccounts(ctx, addresses)
	if err != nil {
		return nil, nil, err
	}
	byAddress, err := index(addresses, results)
	if err != nil {
		return nil, nil, err
	}

	var failures Failures
	for _, addr := range addresses {
		res, ok := byAddress[addr]
		if !ok {
			continue
		}
		if res.Err != nil {
			failures = append(failures, Failure{Address: addr, Kind: kinds[addr], Err: res.Err})
			delete(byAddress, addr)
		}
	}
	return byAddress, failures, nil
}

// index keys provider results by address, checking the provider returned one
// result per requested address.
func index(addresses []address.Address, results []fetch.Result) (map[address.Address]fetch.Result, error) {
	if len(results) != len(addresses) {
		return nil, fmt.Errorf("provider returned %d results for %d addresses", len(results), len(addresses))
	}
	out := make(map[address.Address]fetch.Result, len(results))
	for i, res := range results {
		if res.Address != addresses[i] {
			return nil, fmt.Errorf("provider result %d is for %s, want %s", i, res.Address, addresses[i])
		}
		out[res.Address] = res
	}
	return out, nil
}

func failAll(accounts []account.State, err error) Failures {
	failures := make(Failures, len(accounts))
	for i, acc := range accounts {
		failures[i] = Failure{Address: acc.Address(), Kind: acc.Kind(), Err: err}
	}
	return failures
}
