package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WalletConfig describes one wallet provider announced at startup.
type WalletConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Icon string `mapstructure:"icon"`
	RDNS string `mapstructure:"rdns"`
	RPC  string `mapstructure:"rpc"`
	// Key is a hex private key for an in-process signer, used when RPC is empty.
	Key string `mapstructure:"key"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL    string
	ChainID   uint64
	Contract  string
	FromBlock uint64
	ToBlock   uint64

	ChunkSize          uint64
	MinChunkSize       uint64
	MaxHalvings        int
	MaxRetries         int
	RetryBackoff       time.Duration
	MaxRetryBackoff    time.Duration
	RateLimit          float64
	RateBurst          int
	TimestampBatchSize int
	TimestampWorkers   int

	PollInterval  time.Duration
	ReorgWindow   uint64
	ReorgInterval time.Duration

	RecentLimit     int
	LeaderboardSize int
	BadgeThresholds map[string]string

	Origin         string
	Listen         string
	AllowedOrigins []string
	PGDSN          string
	EventsOut      string
	LogLevel       string
	Wallets        []WalletConfig
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", uint64(8453))
	v.SetDefault("chunk-size", uint64(20000))
	v.SetDefault("min-chunk-size", uint64(500))
	v.SetDefault("max-halvings", 6)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-retry-backoff", 30*time.Second)
	v.SetDefault("rate-limit", 10.0)
	v.SetDefault("rate-burst", 5)
	v.SetDefault("timestamp-batch-size", 100)
	v.SetDefault("timestamp-workers", 4)
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("reorg-window", uint64(64))
	v.SetDefault("reorg-interval", time.Minute)
	v.SetDefault("recent-limit", 10)
	v.SetDefault("leaderboard-size", 10)
	v.SetDefault("listen", ":8080")
	v.SetDefault("origin", "localhost")
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
		RPCURL:             v.GetString("rpc"),
		ChainID:            v.GetUint64("chain-id"),
		Contract:           v.GetString("contract"),
		FromBlock:          v.GetUint64("from"),
		ToBlock:            v.GetUint64("to"),
		ChunkSize:          v.GetUint64("chunk-size"),
		MinChunkSize:       v.GetUint64("min-chunk-size"),
		MaxHalvings:        v.GetInt("max-halvings"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		MaxRetryBackoff:    v.GetDuration("max-retry-backoff"),
		RateLimit:          v.GetFloat64("rate-limit"),
		RateBurst:          v.GetInt("rate-burst"),
		TimestampBatchSize: v.GetInt("timestamp-batch-size"),
		TimestampWorkers:   v.GetInt("timestamp-workers"),
		PollInterval:       v.GetDuration("poll-interval"),
		ReorgWindow:        v.GetUint64("reorg-window"),
		ReorgInterval:      v.GetDuration("reorg-interval"),
		RecentLimit:        v.GetInt("recent-limit"),
		LeaderboardSize:    v.GetInt("leaderboard-size"),
		BadgeThresholds:    v.GetStringMapString("badge-thresholds"),
		Origin:             v.GetString("origin"),
		Listen:             v.GetString("listen"),
		AllowedOrigins:     getStringSlice(v, "allowed-origins"),
		PGDSN:              v.GetString("pg-dsn"),
		EventsOut:          v.GetString("events-out"),
		LogLevel:           v.GetString("log-level"),
	}

	if err := v.UnmarshalKey("wallets", &cfg.Wallets); err != nil {
		return Config{}, fmt.Errorf("decode wallets: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings every run needs.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk-size must be greater than zero")
	}
	if c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min-chunk-size %d exceeds chunk-size %d", c.MinChunkSize, c.ChunkSize)
	}
	if c.ToBlock != 0 && c.FromBlock > c.ToBlock {
		return fmt.Errorf("from %d is after to %d", c.FromBlock, c.ToBlock)
	}
	seen := make(map[string]struct{}, len(c.Wallets))
	for _, w := range c.Wallets {
		if w.ID == "" {
			return fmt.Errorf("wallet entry without id")
		}
		if _, ok := seen[w.ID]; ok {
			return fmt.Errorf("duplicate wallet id %q", w.ID)
		}
		seen[w.ID] = struct{}{}
		if w.RPC == "" && w.Key == "" {
			return fmt.Errorf("wallet %q needs rpc or key", w.ID)
		}
	}
	return nil
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
