// Package config loads and validates the gateway's configuration document.
//
// The document is acquired from a Source (a local JSON file or an HTTP GET,
// see source.go) and decoded with viper into the nested schema under
// data.configs.gate_config.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document. Field names mirror the
// document's dotted schema path (data.configs.gate_config...).
type Config struct {
	Algo string     `mapstructure:"algo"`
	Data DataConfig `mapstructure:"data"`
}

type DataConfig struct {
	Configs      ConfigsConfig `mapstructure:"configs"`
	Markets      []MarketRef   `mapstructure:"markets"`
	AssetsLabels []AssetLabel  `mapstructure:"assets_labels"`
}

type ConfigsConfig struct {
	GateConfig GateConfig `mapstructure:"gate_config"`
}

// GateConfig is the payload the gateway actually consumes.
type GateConfig struct {
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Aeron      AeronConfig      `mapstructure:"aeron"`
	Info       InfoConfig       `mapstructure:"info"`
	Gate       GateSection      `mapstructure:"gate"`
}

type ExchangeConfig struct {
	ExchangeID  string      `mapstructure:"exchange_id"`
	Credentials Credentials `mapstructure:"credentials"`
	IsTestKeys  bool        `mapstructure:"is_test_keys"`
	Accounts    []Account   `mapstructure:"accounts"`
}

type Credentials struct {
	ApiKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// Account is one API-key "account" multiplexed over the private pool.
type Account struct {
	Credentials Credentials `mapstructure:"credentials"`
}

type RateLimitsConfig struct {
	EnableCcxtRateLimiter bool              `mapstructure:"enable_ccxt_rate_limiter"`
	ApiRequestsPerSeconds RequestsPerSecond `mapstructure:"api_requests_per_seconds"`
}

type RequestsPerSecond struct {
	Public  PublicRPS  `mapstructure:"public"`
	Private PrivateRPS `mapstructure:"private"`
}

type PublicRPS struct {
	IPList            []string `mapstructure:"ip_list"`
	ExchangeRPSLimit  float64  `mapstructure:"exchange_rps_limit"`
}

type PrivateRPS struct {
	IPList           []string `mapstructure:"ip_list"`
	Balance          float64  `mapstructure:"balance"`
	OrderStatus      float64  `mapstructure:"order_status"`
	ExchangeRPSLimit float64  `mapstructure:"exchange_rps_limit"`
}

type AeronConfig struct {
	Subscribers SubscribersConfig `mapstructure:"subscribers"`
	Publishers  PublishersConfig  `mapstructure:"publishers"`
}

type SubscribersConfig struct {
	Core string `mapstructure:"core"`
}

type PublishersConfig struct {
	Orderbooks string `mapstructure:"orderbooks"`
	Balances   string `mapstructure:"balances"`
	Core       string `mapstructure:"core"`
	Logs       string `mapstructure:"logs"`
}

type InfoConfig struct {
	Node     string `mapstructure:"node"`
	Instance string `mapstructure:"instance"`
}

type GateSection struct {
	OrderBookDepth int `mapstructure:"order_book_depth"`
}

type MarketRef struct {
	CommonSymbol string `mapstructure:"common_symbol"`
}

type AssetLabel struct {
	Common string `mapstructure:"common"`
}

// Delays holds the periodic-loop intervals derived from the configured rate
// limits; Config.Delays recomputes them on every call.
type Delays struct {
	Balance     time.Duration
	OrderStatus time.Duration
	Private     time.Duration
	Public      time.Duration
}

// Load acquires the raw JSON document from src, decodes it with viper, and
// validates it.
func Load(src Source) (*Config, error) {
	raw, err := src.Fetch()
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(newBytesReader(raw)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and the IP-pool disjointness rule that
// checkIntersection enforces.
func (c *Config) Validate() error {
	gc := c.Data.Configs.GateConfig
	if gc.Exchange.ExchangeID == "" {
		return fmt.Errorf("data.configs.gate_config.exchange.exchange_id is required")
	}
	if gc.RateLimits.ApiRequestsPerSeconds.Private.Balance <= 0 {
		return fmt.Errorf("rate_limits.api_requests_per_seconds.private.balance must be > 0")
	}
	if gc.RateLimits.ApiRequestsPerSeconds.Private.OrderStatus <= 0 {
		return fmt.Errorf("rate_limits.api_requests_per_seconds.private.order_status must be > 0")
	}
	if gc.RateLimits.ApiRequestsPerSeconds.Private.ExchangeRPSLimit <= 0 {
		return fmt.Errorf("rate_limits.api_requests_per_seconds.private.exchange_rps_limit must be > 0")
	}

	if err := checkIntersection(
		gc.RateLimits.ApiRequestsPerSeconds.Public.IPList,
		gc.RateLimits.ApiRequestsPerSeconds.Private.IPList,
	); err != nil {
		return err
	}
	return nil
}

// checkIntersection enforces disjoint public/private IP pools. The only
// tolerated overlap is the degenerate case of a single shared IP used by
// both a 1-element public pool and a 1-element private pool; any other
// overlap, even a single shared IP among larger pools, is rejected.
func checkIntersection(public, private []string) error {
	if len(public) == 1 && len(private) == 1 && public[0] == private[0] {
		return nil
	}

	seen := make(map[string]bool, len(public))
	for _, ip := range public {
		seen[ip] = true
	}
	var shared []string
	for _, ip := range private {
		if seen[ip] {
			shared = append(shared, ip)
		}
	}
	if len(shared) != 0 {
		return fmt.Errorf("public and private IP pools must be disjoint (shared: %v)", shared)
	}
	return nil
}

// Delays computes the periodic-loop delays derived from rate limit config.
func (c *Config) Delays() Delays {
	rps := c.Data.Configs.GateConfig.RateLimits.ApiRequestsPerSeconds
	return Delays{
		Balance:     time.Duration(float64(time.Second) / rps.Private.Balance),
		OrderStatus: time.Duration(float64(time.Second) / rps.Private.OrderStatus),
		Private:     time.Duration(float64(time.Second) / rps.Private.ExchangeRPSLimit),
		Public:      0,
	}
}

// DefaultAssets returns the configured asset label set, used by get_balance
// when the command carries no explicit asset list.
func (c *Config) DefaultAssets() []string {
	assets := make([]string, 0, len(c.Data.AssetsLabels))
	for _, a := range c.Data.AssetsLabels {
		assets = append(assets, a.Common)
	}
	return assets
}

// Symbols returns the configured market symbols to poll for order books.
func (c *Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Data.Markets))
	for _, m := range c.Data.Markets {
		symbols = append(symbols, m.CommonSymbol)
	}
	return symbols
}
