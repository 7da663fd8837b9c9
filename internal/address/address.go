package address

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Size is the byte length of an address.
const Size = 32

// Address identifies one account on the ledger.
type Address [Size]byte

// Parse decodes a base58 address.
func Parse(input string) (Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(input)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %s: %w", input, err)
	}
	if len(raw) != Size {
		return Address{}, fmt.Errorf("invalid address length %d: %s", len(raw), input)
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// MustParse is Parse for well-known constants; it panics on invalid input.
func MustParse(input string) Address {
	addr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return addr
}

// FromBytes copies b into an Address.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Address{}, fmt.Errorf("invalid address length %d", len(b))
	}
	var addr Address
	copy(addr[:], b)
	return addr, nil
}

// ParseAll converts string addresses, skipping blank entries.
func ParseAll(inputs []string) ([]Address, error) {
	addresses := make([]Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		addr, err := Parse(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw key.
func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
