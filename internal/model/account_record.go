package model

import (
	"encoding/base64"
	"time"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
)

// AccountRecord is one observed account snapshot prepared for storage.
type AccountRecord struct {
	Pool      string `json:"pool"`
	Address   string `json:"address"`
	Kind      string `json:"kind"`
	Slot      uint64 `json:"slot"`
	UpdatedAt string `json:"updated_at"`
	DataLen   int    `json:"data_len"`
	Data      string `json:"data"`
}

// NewAccountRecord captures the current snapshot of st. It returns false when
// st has never been updated.
func NewAccountRecord(pool address.Address, st account.State) (AccountRecord, bool) {
	raw, ok := st.Raw()
	if !ok {
		return AccountRecord{}, false
	}
	return AccountRecord{
		Pool:      pool.String(),
		Address:   st.Address().String(),
		Kind:      st.Kind(),
		Slot:      raw.Slot,
		UpdatedAt: raw.UpdatedAt.UTC().Format(time.RFC3339Nano),
		DataLen:   len(raw.Data),
		Data:      base64.StdEncoding.EncodeToString(raw.Data),
	}, true
}

// AccountRecords captures every initialized account of a pool.
func AccountRecords(pool address.Address, accounts []account.State) []AccountRecord {
	out := make([]AccountRecord, 0, len(accounts))
	for _, st := range accounts {
		if rec, ok := NewAccountRecord(pool, st); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Bytes decodes the base64 payload.
func (r AccountRecord) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Data)
}
