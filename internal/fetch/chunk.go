package fetch

import (
	"fmt"

	"dexmirror/internal/address"
)

// Chunk splits addresses into consecutive batches of at most size entries.
func Chunk(addresses []address.Address, size int) ([][]address.Address, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}

	chunks := make([][]address.Address, 0, (len(addresses)+size-1)/size)
	for start := 0; start < len(addresses); start += size {
		end := start + size
		if end > len(addresses) {
			end = len(addresses)
		}
		chunks = append(chunks, addresses[start:end:end])
	}

	return chunks, nil
}
