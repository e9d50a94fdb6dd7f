package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Pair     PairConfig     `mapstructure:"pair"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Safety   SafetyConfig   `mapstructure:"safety"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Key prefix the external governance process writes approvals under
	ApprovalPrefix string `mapstructure:"approval_prefix"`
}

type ChainConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	ChainID    int64  `mapstructure:"chain_id"`
	PrivateKey string `mapstructure:"private_key"`
	// Max contract read calls per second against the RPC node
	ReadRateLimit float64 `mapstructure:"read_rate_limit"`
}

// PairConfig is the immutable deployment configuration: the monitored
// collection account and the token pair it feeds.
type PairConfig struct {
	CollectionAccount string `mapstructure:"collection_account"`
	TokenA            string `mapstructure:"token_a"`
	TokenB            string `mapstructure:"token_b"`
	PairAddress       string `mapstructure:"pair_address"`
	RouterAddress     string `mapstructure:"router_address"`
}

type EngineConfig struct {
	PollIntervalSeconds        int `mapstructure:"poll_interval_seconds"`
	ConfirmationTimeoutSeconds int `mapstructure:"confirmation_timeout_seconds"`
}

func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

func (e EngineConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(e.ConfirmationTimeoutSeconds) * time.Second
}

// SafetyConfig is hot-reloadable; the engine re-reads it through
// Provider.Safety() before every batch decision, never caches it.
// Token amounts are strings so 18-decimal base units survive intact
// (float64 would silently round them).
type SafetyConfig struct {
	MinThresholdA       string `mapstructure:"min_threshold_a"`
	MinThresholdB       string `mapstructure:"min_threshold_b"`
	MaxSingleTxA        string `mapstructure:"max_single_tx_a"`
	MaxSingleTxB        string `mapstructure:"max_single_tx_b"`
	DailyLimitA         string `mapstructure:"daily_limit_a"`
	DailyLimitB         string `mapstructure:"daily_limit_b"`
	SlippageToleranceBps int64 `mapstructure:"slippage_tolerance_bps"`
	MaxPriceImpactBps    int64 `mapstructure:"max_price_impact_bps"`
	RequireMultisig      bool  `mapstructure:"require_multisig"`
	EmergencyStop        bool  `mapstructure:"emergency_stop"`
}

// Safety is the parsed, decision-ready form of SafetyConfig.
type Safety struct {
	MinThresholdA        decimal.Decimal
	MinThresholdB        decimal.Decimal
	MaxSingleTxA         decimal.Decimal
	MaxSingleTxB         decimal.Decimal
	DailyLimitA          decimal.Decimal
	DailyLimitB          decimal.Decimal
	SlippageToleranceBps int64
	MaxPriceImpactBps    int64
	RequireMultisig      bool
	EmergencyStop        bool
}

func (c SafetyConfig) Parse() (Safety, error) {
	s := Safety{
		SlippageToleranceBps: c.SlippageToleranceBps,
		MaxPriceImpactBps:    c.MaxPriceImpactBps,
		RequireMultisig:      c.RequireMultisig,
		EmergencyStop:        c.EmergencyStop,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"safety.min_threshold_a", c.MinThresholdA, &s.MinThresholdA},
		{"safety.min_threshold_b", c.MinThresholdB, &s.MinThresholdB},
		{"safety.max_single_tx_a", c.MaxSingleTxA, &s.MaxSingleTxA},
		{"safety.max_single_tx_b", c.MaxSingleTxB, &s.MaxSingleTxB},
		{"safety.daily_limit_a", c.DailyLimitA, &s.DailyLimitA},
		{"safety.daily_limit_b", c.DailyLimitB, &s.DailyLimitB},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Safety{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return s, nil
}

// Provider hands out the current config. Safety values follow the config
// file live (viper WatchConfig); everything else is fixed at boot.
type Provider struct {
	mu     sync.RWMutex
	cfg    Config
	safety Safety
}

func Load() (*Provider, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. LIQUIGATE_CHAIN_RPC_URL
	viper.SetEnvPrefix("liquigate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("redis.approval_prefix", "multisig:approve")
	viper.SetDefault("chain.chain_id", 137)
	viper.SetDefault("chain.read_rate_limit", 10.0)
	viper.SetDefault("engine.poll_interval_seconds", 30)
	viper.SetDefault("engine.confirmation_timeout_seconds", 180)
	viper.SetDefault("safety.slippage_tolerance_bps", 50)
	viper.SetDefault("safety.max_price_impact_bps", 100)
	viper.SetDefault("safety.require_multisig", false)
	viper.SetDefault("safety.emergency_stop", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	p := &Provider{}
	if err := p.reload(); err != nil {
		return nil, err
	}

	viper.OnConfigChange(func(in fsnotify.Event) {
		if err := p.reload(); err != nil {
			log.Printf("config reload rejected: %v", err)
		}
	})
	viper.WatchConfig()

	return p, nil
}

func (p *Provider) reload() error {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return err
	}
	safety, err := cfg.Safety.Parse()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.safety = safety
	p.mu.Unlock()
	return nil
}

// Config returns the boot-time configuration.
func (p *Provider) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Safety returns the current safety limits. Callers must invoke this
// fresh before every decision rather than holding onto the result.
func (p *Provider) Safety() Safety {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.safety
}

// SetSafety replaces the current safety limits, the same switch a
// config-file edit flips through WatchConfig. Callers that re-read via
// Safety() observe the new limits on their next decision.
func (p *Provider) SetSafety(s Safety) {
	p.mu.Lock()
	p.safety = s
	p.mu.Unlock()
}

// Static wraps a fixed Safety value as a provider, for tests and the
// inspector CLI.
func Static(cfg Config, s Safety) *Provider {
	return &Provider{cfg: cfg, safety: s}
}
