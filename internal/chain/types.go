package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type multipleAccountsResponse struct {
	Context rpcContext     `json:"context"`
	Value   []*accountInfo `json:"value"`
}

type accountInfo struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Executable bool        `json:"executable"`
	RentEpoch  json.Number `json:"rentEpoch"`
	Data       encodedData `json:"data"`
}

// encodedData is the ["<payload>", "<encoding>"] pair returned for binary
// account encodings.
type encodedData struct {
	Payload  string
	Encoding string
}

func (d *encodedData) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("account data: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("account data: want [data, encoding], got %d items", len(pair))
	}
	d.Payload, d.Encoding = pair[0], pair[1]
	return nil
}

func (c *Client) decodeData(d encodedData) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	switch d.Encoding {
	case EncodingBase64:
		return raw, nil
	case EncodingBase64Zstd:
		dec, err := c.zstdDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", d.Encoding)
	}
}

// zstdDecoder lazily builds a shared decoder; DecodeAll is safe for
// concurrent use.
func (c *Client) zstdDecoder() (*zstd.Decoder, error) {
	c.zstdOnce.Do(func() {
		c.zstd, c.zstdErr = zstd.NewReader(nil)
	})
	return c.zstd, c.zstdErr
}
