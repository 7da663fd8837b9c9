package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/pool"
)

func TestAccountRecordFromState(t *testing.T) {
	poolAddr := address.MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	var accAddr address.Address
	accAddr[0] = 7

	acc := account.New[[]byte](accAddr, account.Bytes)
	if _, ok := NewAccountRecord(poolAddr, acc); ok {
		t.Fatalf("expected no record for uninitialized account")
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	if err := acc.Update([]byte{0xde, 0xad, 0xbe, 0xef}, 250, at); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rec, ok := NewAccountRecord(poolAddr, acc)
	if !ok {
		t.Fatalf("expected record")
	}
	want := AccountRecord{
		Pool:      "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Address:   accAddr.String(),
		Kind:      "[]uint8",
		Slot:      250,
		UpdatedAt: "2024-01-02T03:04:05.000000006Z",
		DataLen:   4,
		Data:      "3q2+7w==",
	}
	if !reflect.DeepEqual(rec, want) {
		t.Fatalf("record mismatch: %+v != %+v", rec, want)
	}

	data, err := rec.Bytes()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !reflect.DeepEqual(data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("payload mismatch: %x", data)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"pool", "address", "kind", "slot", "updated_at", "data_len", "data"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing json field %q in %s", key, b)
		}
	}
}

func TestAccountRecordsSkipsUninitialized(t *testing.T) {
	var a, b address.Address
	a[0], b[0] = 1, 2
	ready := account.New[[]byte](a, account.Bytes)
	if err := ready.Update([]byte{1}, 1, time.Now()); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	empty := account.New[[]byte](b, account.Bytes)

	recs := AccountRecords(a, []account.State{ready, empty})
	if len(recs) != 1 || recs[0].Address != a.String() {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestFailureRecords(t *testing.T) {
	var p, a address.Address
	p[0], a[0] = 1, 2
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))

	recs := FailureRecords(p, pool.Failures{
		{Address: a, Kind: "token.Mint", Err: errors.New("account not found")},
		{Address: a},
	}, at)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	want := FailureRecord{
		Pool:       p.String(),
		Address:    a.String(),
		Kind:       "token.Mint",
		Error:      "account not found",
		ObservedAt: "2023-12-31T23:00:00Z",
	}
	if !reflect.DeepEqual(recs[0], want) {
		t.Fatalf("record mismatch: %+v != %+v", recs[0], want)
	}
	if recs[1].Error != "" {
		t.Fatalf("expected empty error, got %q", recs[1].Error)
	}
}
