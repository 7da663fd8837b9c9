package account

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"dexmirror/internal/address"
)

// Snapshot is one consistent view of an account. Snapshots are never mutated
// after they are installed; callers must treat State and Data as read-only.
type Snapshot[T any] struct {
	State     T
	Data      []byte
	Slot      uint64
	UpdatedAt time.Time
}

// Raw is the undecoded part of a snapshot.
type Raw struct {
	Data      []byte
	Slot      uint64
	UpdatedAt time.Time
}

// State is the type-erased view of a Managed account used by pools.
type State interface {
	Address() address.Address
	Kind() string
	Update(data []byte, slot uint64, at time.Time) error
	Data() []byte
	Slot() uint64
	UpdatedAt() time.Time
	Initialized() bool
	// Raw returns the data, slot and time of a single snapshot.
	Raw() (Raw, bool)
}

// Managed holds the latest decoded snapshot of one account.
//
// Readers load the whole snapshot with a single atomic pointer load and never
// block. Writers build a fresh Snapshot and swap the pointer, so a reader sees
// either the old bundle or the new one, never a mix. Concurrent writers are
// not ordered: the last store wins regardless of slot.
type Managed[T any] struct {
	addr   address.Address
	decode Decoder[T]
	snap   atomic.Pointer[Snapshot[T]]
}

var _ State = (*Managed[struct{}])(nil)

// New returns an uninitialized account.
func New[T any](addr address.Address, decode Decoder[T]) *Managed[T] {
	return &Managed[T]{addr: addr, decode: decode}
}

// NewInitialized decodes data and returns an account holding it.
func NewInitialized[T any](addr address.Address, decode Decoder[T], data []byte, slot uint64, at time.Time) (*Managed[T], error) {
	m := New(addr, decode)
	if err := m.Update(data, slot, at); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Managed[T]) Address() address.Address {
	return m.addr
}

// Kind names the decoded state type, e.g. "token.Mint".
func (m *Managed[T]) Kind() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// Load returns the current snapshot, or nil if the account was never installed.
func (m *Managed[T]) Load() *Snapshot[T] {
	return m.snap.Load()
}

// Get returns the decoded state and whether the account is initialized.
func (m *Managed[T]) Get() (T, bool) {
	s := m.snap.Load()
	if s == nil {
		var zero T
		return zero, false
	}
	return s.State, true
}

func (m *Managed[T]) Initialized() bool {
	return m.snap.Load() != nil
}

func (m *Managed[T]) Raw() (Raw, bool) {
	s := m.snap.Load()
	if s == nil {
		return Raw{}, false
	}
	return Raw{Data: s.Data, Slot: s.Slot, UpdatedAt: s.UpdatedAt}, true
}

func (m *Managed[T]) Data() []byte {
	if s := m.snap.Load(); s != nil {
		return s.Data
	}
	return nil
}

func (m *Managed[T]) Slot() uint64 {
	if s := m.snap.Load(); s != nil {
		return s.Slot
	}
	return 0
}

func (m *Managed[T]) UpdatedAt() time.Time {
	if s := m.snap.Load(); s != nil {
		return s.UpdatedAt
	}
	return time.Time{}
}

// Install atomically replaces the snapshot. data is owned by the account
// afterwards.
func (m *Managed[T]) Install(state T, data []byte, slot uint64, at time.Time) {
	m.snap.Store(&Snapshot[T]{State: state, Data: data, Slot: slot, UpdatedAt: at})
}

// InstallIfNewer installs only if slot is not older than the current
// snapshot's slot. It reports whether the snapshot was installed.
func (m *Managed[T]) InstallIfNewer(state T, data []byte, slot uint64, at time.Time) bool {
	next := &Snapshot[T]{State: state, Data: data, Slot: slot, UpdatedAt: at}
	for {
		cur := m.snap.Load()
		if cur != nil && cur.Slot > slot {
			return false
		}
		if m.snap.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Update decodes data and installs it. On decode failure the previous
// snapshot is kept.
func (m *Managed[T]) Update(data []byte, slot uint64, at time.Time) error {
	if m.decode == nil {
		return fmt.Errorf("account %s: no decoder", m.addr)
	}
	state, err := m.decode(data)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w", m.Kind(), m.addr, err)
	}
	m.Install(state, data, slot, at)
	return nil
}
