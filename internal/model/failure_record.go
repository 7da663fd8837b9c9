package model

import (
	"time"

	"dexmirror/internal/address"
	"dexmirror/internal/pool"
)

// FailureRecord records an account that could not be refreshed.
type FailureRecord struct {
	Pool       string `json:"pool"`
	Address    string `json:"address"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
	ObservedAt string `json:"observed_at"`
}

// FailureRecords converts refresh failures of one pool.
func FailureRecords(poolAddr address.Address, failures pool.Failures, observedAt time.Time) []FailureRecord {
	out := make([]FailureRecord, 0, len(failures))
	ts := observedAt.UTC().Format(time.RFC3339Nano)
	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		out = append(out, FailureRecord{
			Pool:       poolAddr.String(),
			Address:    f.Address.String(),
			Kind:       f.Kind,
			Error:      msg,
			ObservedAt: ts,
		})
	}
	return out
}
