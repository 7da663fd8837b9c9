package fetch

import (
	"context"
	"sync"
	"time"

	"dexmirror/internal/address"
)

// Memory is an in-process Provider backed by a map. Every call advances the
// slot by one, so consecutive fetches observe increasing slots. Accounts
// stored with SetAt report their own slot and time instead.
type Memory struct {
	mu       sync.RWMutex
	accounts map[address.Address][]byte
	observed map[address.Address]observation
	failures map[address.Address]error
	slot     uint64
	calls    int
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[address.Address][]byte),
		observed: make(map[address.Address]observation),
		failures: make(map[address.Address]error),
		now:      time.Now,
	}
}

type observation struct {
	slot uint64
	at   time.Time
}

// Set stores data for addr and clears any injected failure.
func (m *Memory) Set(addr address.Address, data []byte) {
	m.store(addr, data, nil)
}

// SetAt stores data for addr as observed at slot and time at. Fetches of addr
// report that slot and time until the next Set.
func (m *Memory) SetAt(addr address.Address, data []byte, slot uint64, at time.Time) {
	m.store(addr, data, &observation{slot: slot, at: at})
}

func (m *Memory) store(addr address.Address, data []byte, obs *observation) {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.accounts[addr] = buf
	if obs != nil {
		m.observed[addr] = *obs
	} else {
		delete(m.observed, addr)
	}
	delete(m.failures, addr)
	m.mu.Unlock()
}

// Delete removes addr so later fetches report ErrAccountNotFound.
func (m *Memory) Delete(addr address.Address) {
	m.mu.Lock()
	delete(m.accounts, addr)
	delete(m.observed, addr)
	m.mu.Unlock()
}

// Fail makes every fetch of addr return err until Set or Recover is called.
func (m *Memory) Fail(addr address.Address, err error) {
	m.mu.Lock()
	m.failures[addr] = err
	m.mu.Unlock()
}

func (m *Memory) Recover(addr address.Address) {
	m.mu.Lock()
	delete(m.failures, addr)
	m.mu.Unlock()
}

// Calls returns how many batched fetches were served.
func (m *Memory) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *Memory) GetMultipleAccounts(ctx context.Context, addresses []address.Address) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.slot++
	m.calls++
	slot := m.slot
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	at := m.now()
	results := make([]Result, len(addresses))
	for i, addr := range addresses {
		res := Result{Address: addr}
		if err, ok := m.failures[addr]; ok {
			res.Err = err
		} else if data, ok := m.accounts[addr]; ok {
			res.Data = make([]byte, len(data))
			copy(res.Data, data)
			res.Slot = slot
			res.ReceivedAt = at
			if obs, ok := m.observed[addr]; ok {
				res.Slot = obs.slot
				res.ReceivedAt = obs.at
			}
		} else {
			res.Err = ErrAccountNotFound
		}
		results[i] = res
	}
	return results, nil
}
