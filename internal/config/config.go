package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lineaclaim/internal/batch"
	"lineaclaim/internal/logging"
)

// Mode selects what happens to claimed tokens.
type Mode string

const (
	ModeClaim         Mode = "claim"
	ModeClaimSwap     Mode = "claim_swap"
	ModeClaimWithdraw Mode = "claim_withdraw"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Wallets  WalletsConfig  `mapstructure:"wallets"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Gas      GasConfig      `mapstructure:"gas"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// WalletsConfig locates the wallet list.
type WalletsConfig struct {
	Path string `mapstructure:"path"`
}

// BatchConfig governs how wallets are scheduled.
type BatchConfig struct {
	Mode       Mode          `mapstructure:"mode"`
	Threads    int           `mapstructure:"threads"`
	StartDelay batch.Range   `mapstructure:"start_delay"`
	ClaimDelay batch.Range   `mapstructure:"claim_delay"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Shuffle    bool          `mapstructure:"shuffle"`
}

// RetryPolicy returns the per-wallet retry policy.
func (b BatchConfig) RetryPolicy() batch.RetryPolicy {
	return batch.RetryPolicy{MaxRetries: b.Retries, Delay: b.RetryDelay}
}

// GasConfig covers fee gating.
type GasConfig struct {
	// MaxGwei of zero disables waiting.
	MaxGwei             float64       `mapstructure:"max_gwei"`
	WaitTimeout         time.Duration `mapstructure:"wait_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BoostPriorityFeePct float64       `mapstructure:"boost_priority_fee_pct"`
}

// ChainConfig covers on-chain access.
type ChainConfig struct {
	RPCURLs        []string      `mapstructure:"rpc_urls"`
	ChainID        int64         `mapstructure:"chain_id"`
	ClaimContract  string        `mapstructure:"claim_contract"`
	TokenAddress   string        `mapstructure:"token_address"`
	TxTimeout      time.Duration `mapstructure:"tx_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SwapConfig captures Odos connectivity.
type SwapConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SlippagePct    float64       `mapstructure:"slippage_pct"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// DatabaseConfig encapsulates optional PostgreSQL run history.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines where run summaries are sent.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINEACLAIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lineaclaim")
	v.SetDefault("app.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("wallets.path", "config/wallets.txt")

	v.SetDefault("batch.mode", string(ModeClaim))
	v.SetDefault("batch.threads", 1)
	v.SetDefault("batch.start_delay.min", "0s")
	v.SetDefault("batch.start_delay.max", "0s")
	v.SetDefault("batch.claim_delay.min", "0s")
	v.SetDefault("batch.claim_delay.max", "0s")
	v.SetDefault("batch.retries", 3)
	v.SetDefault("batch.retry_delay", "10s")
	v.SetDefault("batch.shuffle", false)

	v.SetDefault("gas.max_gwei", 0)
	v.SetDefault("gas.wait_timeout", "24h")
	v.SetDefault("gas.poll_interval", "30s")
	v.SetDefault("gas.boost_priority_fee_pct", 0)

	v.SetDefault("chain.rpc_urls", []string{"https://rpc.linea.build"})
	v.SetDefault("chain.chain_id", 59144)
	v.SetDefault("chain.claim_contract", "0x87baa1694381ae3ecae2660d97fe60404080eb64")
	v.SetDefault("chain.token_address", "0x1789e0043623282D5DCc7F213d703C6D8BAfBB04")
	v.SetDefault("chain.tx_timeout", "3m")
	v.SetDefault("chain.request_timeout", "15s")

	v.SetDefault("swap.base_url", "https://api.odos.xyz")
	v.SetDefault("swap.slippage_pct", 1.0)
	v.SetDefault("swap.retries", 3)
	v.SetDefault("swap.retry_delay", "5s")
	v.SetDefault("swap.request_timeout", "15s")
	v.SetDefault("swap.user_agent", "lineaclaim/1.0")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6c696e6561))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 1000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Batch.Mode {
	case ModeClaim, ModeClaimSwap, ModeClaimWithdraw:
	default:
		return fmt.Errorf("batch.mode must be one of claim, claim_swap, claim_withdraw (got %q)", c.Batch.Mode)
	}
	if c.Batch.Threads < 1 {
		return fmt.Errorf("batch.threads must be at least 1")
	}
	if err := c.Batch.StartDelay.Validate(); err != nil {
		return fmt.Errorf("batch.start_delay: %w", err)
	}
	if err := c.Batch.ClaimDelay.Validate(); err != nil {
		return fmt.Errorf("batch.claim_delay: %w", err)
	}
	if err := c.Batch.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if c.Gas.MaxGwei < 0 {
		return fmt.Errorf("gas.max_gwei cannot be negative")
	}
	if c.Gas.PollInterval <= 0 {
		return fmt.Errorf("gas.poll_interval must be greater than zero")
	}
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("chain.rpc_urls must be a non-empty list")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id must be greater than zero")
	}
	if !common.IsHexAddress(c.Chain.ClaimContract) {
		return fmt.Errorf("chain.claim_contract is not a valid address")
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return fmt.Errorf("chain.token_address is not a valid address")
	}
	if c.Swap.Retries < 0 {
		return fmt.Errorf("swap.retries cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
