package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	Factory       string
	WrappedNative string

	IndexURL        string
	APIURL          string
	VerificationURL string

	AssetRegistryURL string
	ImageCDNURL      string

	PollInterval              time.Duration
	ScanInterval              time.Duration
	ScanBlockRange            uint64
	ScanBatchSize             uint64
	MaxNewTokensPerBatch      int
	ThrottleRate              int
	ThrottlePause             time.Duration
	MinLiquidityUSD           float64
	MinVolumeUSD              float64
	MinHolders                int
	AutoVerification          bool
	MinVerificationConfidence int

	PriceUpdateInterval time.Duration
	MaxPriceAge         time.Duration
	PriceBatchSize      int
	PriceBatchDelay     time.Duration
	MaxSubscriptions    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string
	JournalOut  string

	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll-interval", time.Minute)
	v.SetDefault("scan-interval", 5*time.Minute)
	v.SetDefault("scan-block-range", uint64(5000))
	v.SetDefault("scan-batch-size", uint64(2000))
	v.SetDefault("max-new-tokens", 50)
	v.SetDefault("throttle-rate", 10)
	v.SetDefault("throttle-pause", time.Minute)
	v.SetDefault("min-liquidity-usd", 10000.0)
	v.SetDefault("min-volume-usd", 1000.0)
	v.SetDefault("min-holders", 50)
	v.SetDefault("auto-verification", false)
	v.SetDefault("min-verification-confidence", 0)
	v.SetDefault("price-update-interval", 30*time.Second)
	v.SetDefault("max-price-age", time.Minute)
	v.SetDefault("price-batch-size", 20)
	v.SetDefault("price-batch-delay", 200*time.Millisecond)
	v.SetDefault("max-subscriptions", 1000)
	v.SetDefault("journal-out", "./data/events.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
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

	cfg := Config{
		RPCURL:                    v.GetString("rpc"),
		Factory:                   v.GetString("factory"),
		WrappedNative:             v.GetString("wrapped-native"),
		IndexURL:                  v.GetString("index-url"),
		APIURL:                    v.GetString("api-url"),
		VerificationURL:           v.GetString("verification-url"),
		AssetRegistryURL:          v.GetString("asset-registry-url"),
		ImageCDNURL:               v.GetString("image-cdn-url"),
		PollInterval:              v.GetDuration("poll-interval"),
		ScanInterval:              v.GetDuration("scan-interval"),
		ScanBlockRange:            v.GetUint64("scan-block-range"),
		ScanBatchSize:             v.GetUint64("scan-batch-size"),
		MaxNewTokensPerBatch:      v.GetInt("max-new-tokens"),
		ThrottleRate:              v.GetInt("throttle-rate"),
		ThrottlePause:             v.GetDuration("throttle-pause"),
		MinLiquidityUSD:           v.GetFloat64("min-liquidity-usd"),
		MinVolumeUSD:              v.GetFloat64("min-volume-usd"),
		MinHolders:                v.GetInt("min-holders"),
		AutoVerification:          v.GetBool("auto-verification"),
		MinVerificationConfidence: v.GetInt("min-verification-confidence"),
		PriceUpdateInterval:       v.GetDuration("price-update-interval"),
		MaxPriceAge:               v.GetDuration("max-price-age"),
		PriceBatchSize:            v.GetInt("price-batch-size"),
		PriceBatchDelay:           v.GetDuration("price-batch-delay"),
		MaxSubscriptions:          v.GetInt("max-subscriptions"),
		RedisAddr:                 v.GetString("redis-addr"),
		RedisPassword:             v.GetString("redis-password"),
		RedisDB:                   v.GetInt("redis-db"),
		PostgresDSN:               v.GetString("pg-dsn"),
		JournalOut:                v.GetString("journal-out"),
		Checkpoint:                v.GetString("checkpoint"),
		CheckpointEnabled:         v.GetBool("checkpoint-enabled"),
		MaxRetries:                v.GetInt("max-retries"),
		RetryBackoff:              v.GetDuration("retry-backoff"),
		MetricsAddr:               v.GetString("metrics-addr"),
		LogLevel:                  v.GetString("log-level"),
	}

	return cfg, nil
}
