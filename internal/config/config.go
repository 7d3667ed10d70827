package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crypto-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	CheckDeadline   time.Duration `mapstructure:"check_deadline"`
}

// CoinGeckoConfig captures price source connectivity.
type CoinGeckoConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	CacheTTL       time.Duration     `mapstructure:"cache_ttl"`
	Symbols        map[string]string `mapstructure:"symbols"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BotToken    string        `mapstructure:"bot_token"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Polling     bool          `mapstructure:"polling"`
}

// ServerConfig governs the inbound HTTP surface.
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	CronSecret string `mapstructure:"cron_secret"`
}

// RetentionConfig bounds stored price history.
type RetentionConfig struct {
	PriceHistory    time.Duration `mapstructure:"price_history"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
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
	v.SetDefault("app.name", "coinwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f696e))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.check_deadline", "9s")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.request_timeout", "10s")
	v.SetDefault("coingecko.user_agent", "coinwatcher/1.0")
	v.SetDefault("coingecko.cache_ttl", "30s")
	v.SetDefault("coingecko.symbols", defaultSymbols())

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.send_timeout", "5s")
	v.SetDefault("telegram.polling", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":3001")

	v.SetDefault("retention.price_history", "24h")
	v.SetDefault("retention.cleanup_interval", "1h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.query_timeout", "5s")
}

// defaultSymbols maps tracked tickers to CoinGecko identifiers.
func defaultSymbols() map[string]string {
	return map[string]string{
		"BTC":   "bitcoin",
		"ETH":   "ethereum",
		"SOL":   "solana",
		"XRP":   "ripple",
		"ADA":   "cardano",
		"DOGE":  "dogecoin",
		"DOT":   "polkadot",
		"MATIC": "matic-network",
		"LINK":  "chainlink",
		"AVAX":  "avalanche-2",
	}
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.CheckDeadline <= 0 {
		return fmt.Errorf("scheduler.check_deadline must be greater than zero")
	}
	if c.CoinGecko.CacheTTL <= 0 {
		return fmt.Errorf("coingecko.cache_ttl must be greater than zero")
	}
	if len(c.CoinGecko.Symbols) == 0 {
		return fmt.Errorf("coingecko.symbols must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Retention.PriceHistory <= 0 {
		return fmt.Errorf("retention.price_history must be greater than zero")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token 必须配置")
	}
	if c.Server.Enabled && c.Server.CronSecret == "" {
		return fmt.Errorf("server.cron_secret must be set when the server is enabled")
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
