package address

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const tokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

func TestParseRoundTrip(t *testing.T) {
	addr, err := Parse(tokenProgram)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.String() != tokenProgram {
		t.Fatalf("round-trip mismatch: %s", addr.String())
	}
}

func TestParseSystemProgram(t *testing.T) {
	addr, err := Parse(strings.Repeat("1", 32))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !addr.IsZero() {
		t.Fatalf("expected zero address, got %x", addr[:])
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "0OIl", "abc"} {
		if _, err := Parse(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseAllSkipsBlanks(t *testing.T) {
	got, err := ParseAll([]string{" ", tokenProgram, ""})
	if err != nil {
		t.Fatalf("parse all: %v", err)
	}
	if len(got) != 1 || got[0].String() != tokenProgram {
		t.Fatalf("unexpected addresses: %v", got)
	}
	if _, err := ParseAll([]string{tokenProgram, "bad"}); err == nil {
		t.Fatalf("expected error for invalid entry")
	}
}

func TestAddressJSON(t *testing.T) {
	type wrapper struct {
		Pool Address `json:"pool"`
	}
	in := wrapper{Pool: MustParse(tokenProgram)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), tokenProgram) {
		t.Fatalf("expected base58 text, got %s", data)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("mismatch: %+v != %+v", out, in)
	}
}

func TestFindProgramAddress(t *testing.T) {
	program := MustParse("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")
	pool := MustParse(tokenProgram)

	seeds := [][]byte{[]byte("oracle"), pool[:]}
	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if IsOnCurve(addr) {
		t.Fatalf("derived address must be off curve")
	}

	again, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if again != addr {
		t.Fatalf("create/find mismatch: %s != %s", again, addr)
	}

	other, _, err := FindProgramAddress([][]byte{[]byte("tick_array"), pool[:], []byte("0")}, program)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if other == addr {
		t.Fatalf("different seeds produced the same address")
	}
}

func TestCreateProgramAddressKnownVectors(t *testing.T) {
	program := MustParse("BPFLoaderUpgradeab1e11111111111111111111111")
	seedKey := MustParse("SeedPubey1111111111111111111111111111111111")

	cases := []struct {
		seeds [][]byte
		want  string
	}{
		{[][]byte{[]byte(""), {1}}, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe"},
		{[][]byte{[]byte("☉"), {0}}, "13yWmRpaTR4r5nAktwLqMpRNr28tnVUZw26rTvPSSB19"},
		{[][]byte{[]byte("Talking"), []byte("Squirrels")}, "2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk"},
		{[][]byte{seedKey[:], {1}}, "976ymqVnfE32QFe6NfGDctSvVa36LWnvYxhU6G2232YL"},
	}
	for i, tc := range cases {
		got, err := CreateProgramAddress(tc.seeds, program)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if got.String() != tc.want {
			t.Fatalf("case %d: got %s, want %s", i, got, tc.want)
		}
	}

	swapped, err := CreateProgramAddress([][]byte{[]byte("Squirrels"), []byte("Talking")}, program)
	if err == nil && swapped.String() == "2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk" {
		t.Fatalf("seed order must change the derived address")
	}
}

func TestFindAssociatedTokenAddress(t *testing.T) {
	ataProgram := MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	wallet := MustParse("11111111111111111111111111111111")
	usdc := MustParse("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	token := MustParse(tokenProgram)

	got, bump, err := FindProgramAddress([][]byte{wallet[:], token[:], usdc[:]}, ataProgram)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.String() != "HJt8Tjdsc9ms9i4WCZEzhzr4oyf3ANcdzXrNdLPFqm3M" || bump != 255 {
		t.Fatalf("got %s bump %d", got, bump)
	}
}

func TestCreateProgramAddressLimits(t *testing.T) {
	program := MustParse(tokenProgram)

	if _, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, program); err == nil {
		t.Fatalf("expected error for long seed")
	}
	seeds := make([][]byte, MaxSeeds+1)
	if _, err := CreateProgramAddress(seeds, program); err == nil {
		t.Fatalf("expected error for too many seeds")
	}
	if _, _, err := FindProgramAddress(make([][]byte, MaxSeeds), program); err == nil {
		t.Fatalf("expected error when no room for bump")
	}
}

func TestIsOnCurve(t *testing.T) {
	// The ed25519 base point encoding.
	var base Address
	base[0] = 0x58
	for i := 1; i < Size; i++ {
		base[i] = 0x66
	}
	if !IsOnCurve(base) {
		t.Fatalf("base point must be on curve")
	}

	_, err := CreateProgramAddress([][]byte{}, base)
	if err != nil && !errors.Is(err, ErrOnCurve) {
		t.Fatalf("unexpected error: %v", err)
	}
}
