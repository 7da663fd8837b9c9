package token

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
)

const (
	// MintSize is the packed length of an SPL token mint.
	MintSize = 82
	// AccountSize is the packed length of an SPL token account.
	AccountSize = 165
)

// ProgramID is the SPL token program.
var ProgramID = address.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

var (
	ErrShortData      = errors.New("token: short data")
	ErrInvalidOption  = errors.New("token: invalid option tag")
	ErrUninitialized  = errors.New("token: uninitialized")
	ErrInvalidAccount = errors.New("token: invalid account state")
)

// Mint is the SPL token mint account.
type Mint struct {
	MintAuthority   *address.Address
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *address.Address
}

// UnmarshalBinary decodes the packed mint layout. Bytes past MintSize are
// ignored: Token-2022 mints append extension data to the same base layout.
func (m *Mint) UnmarshalBinary(data []byte) error {
	if len(data) < MintSize {
		return fmt.Errorf("%w: mint has %d bytes, want %d", ErrShortData, len(data), MintSize)
	}

	r := reader{buf: data[:MintSize]}
	mintAuthority, err := r.optionAddress()
	if err != nil {
		return fmt.Errorf("mint authority: %w", err)
	}
	supply := r.u64()
	decimals := r.u8()
	initialized, err := r.bool()
	if err != nil {
		return fmt.Errorf("is initialized: %w", err)
	}
	freezeAuthority, err := r.optionAddress()
	if err != nil {
		return fmt.Errorf("freeze authority: %w", err)
	}
	if !initialized {
		return ErrUninitialized
	}

	*m = Mint{
		MintAuthority:   mintAuthority,
		Supply:          supply,
		Decimals:        decimals,
		IsInitialized:   initialized,
		FreezeAuthority: freezeAuthority,
	}
	return nil
}

// UISupply returns the supply scaled by the mint decimals.
func (m Mint) UISupply() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(m.Supply), -int32(m.Decimals))
}

// AccountState is the lifecycle state of a token account.
type AccountState uint8

const (
	AccountUninitialized AccountState = iota
	AccountInitialized
	AccountFrozen
)

func (s AccountState) String() string {
	switch s {
	case AccountUninitialized:
		return "uninitialized"
	case AccountInitialized:
		return "initialized"
	case AccountFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Account is the SPL token account holding a balance of one mint.
type Account struct {
	Mint            address.Address
	Owner           address.Address
	Amount          uint64
	Delegate        *address.Address
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *address.Address
}

// UnmarshalBinary decodes the packed token account layout. Bytes past
// AccountSize hold Token-2022 extensions and are ignored.
func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) < AccountSize {
		return fmt.Errorf("%w: account has %d bytes, want %d", ErrShortData, len(data), AccountSize)
	}

	r := reader{buf: data[:AccountSize]}
	var out Account
	out.Mint = r.address()
	out.Owner = r.address()
	out.Amount = r.u64()

	var err error
	if out.Delegate, err = r.optionAddress(); err != nil {
		return fmt.Errorf("delegate: %w", err)
	}
	out.State = AccountState(r.u8())
	if out.State > AccountFrozen {
		return fmt.Errorf("%w: %d", ErrInvalidAccount, out.State)
	}
	if out.State == AccountUninitialized {
		return ErrUninitialized
	}
	if out.IsNative, err = r.optionU64(); err != nil {
		return fmt.Errorf("is native: %w", err)
	}
	out.DelegatedAmount = r.u64()
	if out.CloseAuthority, err = r.optionAddress(); err != nil {
		return fmt.Errorf("close authority: %w", err)
	}

	*a = out
	return nil
}

// UIAmount returns the balance scaled by decimals.
func (a Account) UIAmount(decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(a.Amount), -int32(decimals))
}

// DecodeMint and DecodeAccount plug the layouts into managed accounts.
var (
	DecodeMint    = account.Unmarshaler[Mint]()
	DecodeAccount = account.Unmarshaler[Account]()
)

type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bool() (bool, error) {
	switch r.u8() {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New("invalid bool")
	}
}

func (r *reader) address() address.Address {
	var a address.Address
	copy(a[:], r.buf[r.off:r.off+address.Size])
	r.off += address.Size
	return a
}

// optionAddress reads a COption<Pubkey>: u32 tag then 32 bytes.
func (r *reader) optionAddress() (*address.Address, error) {
	tag := r.u32()
	a := r.address()
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return &a, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidOption, tag)
	}
}

func (r *reader) optionU64() (*uint64, error) {
	tag := r.u32()
	v := r.u64()
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidOption, tag)
	}
}

// MarshalBinary packs the mint layout.
func (m Mint) MarshalBinary() ([]byte, error) {
	w := writer{buf: make([]byte, 0, MintSize)}
	w.optionAddress(m.MintAuthority)
	w.u64(m.Supply)
	w.u8(m.Decimals)
	if m.IsInitialized {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.optionAddress(m.FreezeAuthority)
	return w.buf, nil
}

// MarshalBinary packs the token account layout.
func (a Account) MarshalBinary() ([]byte, error) {
	w := writer{buf: make([]byte, 0, AccountSize)}
	w.address(a.Mint)
	w.address(a.Owner)
	w.u64(a.Amount)
	w.optionAddress(a.Delegate)
	w.u8(uint8(a.State))
	if a.IsNative != nil {
		w.u32(1)
		w.u64(*a.IsNative)
	} else {
		w.u32(0)
		w.u64(0)
	}
	w.u64(a.DelegatedAmount)
	w.optionAddress(a.CloseAuthority)
	return w.buf, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) address(a address.Address) {
	w.buf = append(w.buf, a[:]...)
}

func (w *writer) optionAddress(a *address.Address) {
	if a == nil {
		w.u32(0)
		w.address(address.Address{})
		return
	}
	w.u32(1)
	w.address(*a)
}
