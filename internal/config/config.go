package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Pool kinds understood by the CLI.
const (
	KindRaw          = "raw"
	KindMint         = "mint"
	KindTokenAccount = "token-account"
)

// PoolConfig describes one account set to mirror.
type PoolConfig struct {
	Primary  string   `mapstructure:"primary"`
	Accounts []string `mapstructure:"accounts"`
	Kind     string   `mapstructure:"kind"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL            string
	Commitment        string
	Encoding          string
	MaxAccounts       int
	Concurrency       int
	MaxRetries        int
	RetryBackoff      time.Duration
	Interval          time.Duration
	Pools             []PoolConfig
	Primary           string
	Accounts          []string
	Kind              string
	Out               string
	FailuresOut       string
	PGDSN             string
	Checkpoint        string
	CheckpointEnabled bool
	PebbleDir         string
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaFailures     string
	HTTPAddr          string
	WSURL             string
	In                string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("commitment", "confirmed")
	v.SetDefault("encoding", "base64")
	v.SetDefault("max-accounts", 100)
	v.SetDefault("concurrency", 4)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 250*time.Millisecond)
	v.SetDefault("interval", 2*time.Second)
	v.SetDefault("kind", KindRaw)
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("kafka-topic", "account-snapshots")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var pools []PoolConfig
	if err := v.UnmarshalKey("pools", &pools); err != nil {
		return Config{}, fmt.Errorf("decode pools: %w", err)
	}
	for i := range pools {
		pools[i].Primary = strings.TrimSpace(pools[i].Primary)
		pools[i].Accounts = cleanStrings(pools[i].Accounts)
		if pools[i].Kind == "" {
			pools[i].Kind = KindRaw
		}
		if err := ValidateKind(pools[i].Kind); err != nil {
			return Config{}, fmt.Errorf("pool %d: %w", i, err)
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		Commitment:        v.GetString("commitment"),
		Encoding:          v.GetString("encoding"),
		MaxAccounts:       v.GetInt("max-accounts"),
		Concurrency:       v.GetInt("concurrency"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Interval:          v.GetDuration("interval"),
		Pools:             pools,
		Primary:           strings.TrimSpace(v.GetString("primary")),
		Accounts:          getStringSlice(v, "account"),
		Kind:              v.GetString("kind"),
		Out:               v.GetString("out"),
		FailuresOut:       v.GetString("failures-out"),
		PGDSN:             v.GetString("pg-dsn"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PebbleDir:         v.GetString("pebble-dir"),
		KafkaBrokers:      getStringSlice(v, "kafka-brokers"),
		KafkaTopic:        v.GetString("kafka-topic"),
		KafkaFailures:     v.GetString("kafka-failures-topic"),
		HTTPAddr:          v.GetString("http-addr"),
		WSURL:             v.GetString("ws"),
		In:                v.GetString("in"),
		LogLevel:          v.GetString("log-level"),
	}
	if err := ValidateKind(cfg.Kind); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateKind reports whether kind names a supported account layout.
func ValidateKind(kind string) error {
	switch kind {
	case KindRaw, KindMint, KindTokenAccount:
		return nil
	default:
		return fmt.Errorf("unknown pool kind %q (want %s, %s or %s)", kind, KindRaw, KindMint, KindTokenAccount)
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
