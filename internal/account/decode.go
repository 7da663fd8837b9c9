package account

import (
	"encoding"
	"fmt"
)

// Decoder turns raw account bytes into a typed state value. Decoders must be
// deterministic and must not retain data.
type Decoder[T any] func(data []byte) (T, error)

// Unmarshaler builds a Decoder for value types whose pointer implements
// encoding.BinaryUnmarshaler.
func Unmarshaler[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}]() Decoder[T] {
	return func(data []byte) (T, error) {
		var v T
		if err := PT(&v).UnmarshalBinary(data); err != nil {
			return v, err
		}
		return v, nil
	}
}

// Bytes keeps the raw account data as its own state.
func Bytes(data []byte) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("nil account data")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
