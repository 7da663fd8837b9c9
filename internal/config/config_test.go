package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const sampleConfig = `
rpc: https://rpc.example.org
interval: 5s
pools:
  - primary: " So11111111111111111111111111111111111111112 "
    kind: mint
    accounts:
      - EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
      - ""
  - primary: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.RPCURL != "https://rpc.example.org" {
		t.Fatalf("unexpected rpc: %q", cfg.RPCURL)
	}
	if cfg.Interval != 5*time.Second {
		t.Fatalf("unexpected interval: %v", cfg.Interval)
	}
	if cfg.MaxAccounts != 100 || cfg.Commitment != "confirmed" || cfg.Encoding != "base64" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	want := []PoolConfig{
		{
			Primary:  "So11111111111111111111111111111111111111112",
			Kind:     KindMint,
			Accounts: []string{"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
		},
		{
			Primary:  "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
			Kind:     KindRaw,
			Accounts: []string{},
		},
	}
	if !reflect.DeepEqual(cfg.Pools, want) {
		t.Fatalf("pools mismatch: %+v != %+v", cfg.Pools, want)
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("MIRROR_MAX_RETRIES", "9")
	t.Setenv("MIRROR_RPC", "https://env.example.org")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.StringSlice("account", nil, "")
	flags.String("kind", KindRaw, "")
	if err := flags.Parse([]string{"--rpc", "https://flag.example.org", "--account", "a, b,,c", "--kind", "token-account"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(writeConfig(t, "log-level: debug\n"), flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RPCURL != "https://flag.example.org" {
		t.Fatalf("flag should win over env, got %q", cfg.RPCURL)
	}
	if cfg.MaxRetries != 9 {
		t.Fatalf("env not applied: %d", cfg.MaxRetries)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("config file not applied: %q", cfg.LogLevel)
	}
	if !reflect.DeepEqual(cfg.Accounts, []string{"a", "b", "c"}) {
		t.Fatalf("accounts mismatch: %v", cfg.Accounts)
	}
	if cfg.Kind != KindTokenAccount {
		t.Fatalf("kind mismatch: %q", cfg.Kind)
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	body := "pools:\n  - primary: x\n    kind: orca\n"
	if _, err := Load(writeConfig(t, body), nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestSplitAndClean(t *testing.T) {
	got := splitAndClean(" a ,, b ")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected split: %v", got)
	}
	if splitAndClean("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
