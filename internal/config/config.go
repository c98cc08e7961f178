// Package config handles the gate's two-stage configuration: a small INI
// bootstrap read at startup and the runtime blob fetched from the
// configurator service.
package config

import (
	"fmt"
	"strings"
	"time"

	"flashgate/internal/core"

	"github.com/spf13/viper"
)

// Bootstrap is the local INI the process starts from. Everything else comes
// from the configurator.
type Bootstrap struct {
	Configurator ConfiguratorConfig
	Bus          BusConfig
	Metrics      MetricsConfig
	Logging      LoggingConfig
}

// ConfiguratorConfig locates the runtime blob
type ConfiguratorConfig struct {
	BaseURL  string
	Exchange string
	Instance string
	Algo     string
	// Source overrides the HTTP fetch, e.g. "file:testdata/config.json"
	Source string
}

// BusConfig locates the messaging substrate
type BusConfig struct {
	URL string
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level string
	// Config optionally points at a YAML file with zap overrides
	Config string
}

// LoadBootstrap reads the INI at path. Values can be overridden through the
// environment with a FLASHGATE_ prefix, e.g. FLASHGATE_BUS_URL.
func LoadBootstrap(path string) (*Bootstrap, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetEnvPrefix("FLASHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("metrics.listen", ":9095")
	v.SetDefault("logging.level", "INFO")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	b := &Bootstrap{
		Configurator: ConfiguratorConfig{
			BaseURL:  v.GetString("configurator.base_url"),
			Exchange: v.GetString("configurator.exchange"),
			Instance: v.GetString("configurator.instance"),
			Algo:     v.GetString("configurator.algo"),
			Source:   v.GetString("configurator.source"),
		},
		Bus:     BusConfig{URL: v.GetString("bus.url")},
		Metrics: MetricsConfig{Listen: v.GetString("metrics.listen")},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Config: v.GetString("logging.config"),
		},
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate gathers every bootstrap failure into one error
func (b *Bootstrap) Validate() error {
	var errs []string

	if b.Configurator.Exchange == "" {
		errs = append(errs, "configurator.exchange is required")
	}
	if b.Configurator.Instance == "" {
		errs = append(errs, "configurator.instance is required")
	}
	if b.Configurator.BaseURL == "" && b.Configurator.Source == "" {
		errs = append(errs, "configurator.base_url or configurator.source is required")
	}
	if b.Bus.URL == "" {
		errs = append(errs, "bus.url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// Runtime is the decoded configurator blob, reduced to what the gate uses
type Runtime struct {
	Algo    string   `json:"algo"`
	Assets  []string `json:"-"` // data.assets_labels[].common
	Symbols []string `json:"-"` // data.markets[].common_symbol
	Gate    GateConfig
}

// GateConfig is data.configs.gate_config
type GateConfig struct {
	Info       InfoConfig       `json:"info"`
	Exchange   ExchangeConfig   `json:"exchange"`
	Accounts   []AccountConfig  `json:"accounts"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Gate       TimingsConfig    `json:"gate"`
	Collection CollectionConfig `json:"data_collection_method"`
	Storage    StorageConfig    `json:"storage"`
	Aeron      AeronConfig      `json:"aeron"`
}

// InfoConfig identifies this deployment
type InfoConfig struct {
	Node     string `json:"node"`
	Exchange string `json:"exchange"`
	Instance string `json:"instance"`
}

// AccountConfig is one credential set of a multi-account pool
type AccountConfig struct {
	APIKey    Secret `json:"api_key"`
	SecretKey Secret `json:"secret_key"`
	Password  Secret `json:"password"`
}

// Credentials converts to the domain type
func (a AccountConfig) Credentials() core.Credentials {
	return core.Credentials{
		APIKey:    string(a.APIKey),
		SecretKey: string(a.SecretKey),
		Password:  string(a.Password),
	}
}

// ExchangeConfig names the venue and its primary credentials
type ExchangeConfig struct {
	ExchangeID  string        `json:"exchange_id"`
	Credentials AccountConfig `json:"credentials"`
}

// RateLimitsConfig throttles venue access
type RateLimitsConfig struct {
	EnableBuiltinRateLimiter bool    `json:"enable_builtin_rate_limiter"`
	SubscribeTimeout         float64 `json:"subscribe_timeout"` // seconds
}

// TimingsConfig holds the depth and delay knobs; delays are float seconds
type TimingsConfig struct {
	OrderBookDepth   int     `json:"order_book_depth"`
	OrderBookDelay   float64 `json:"order_book_delay"`
	BalanceDelay     float64 `json:"balance_delay"`
	OrderStatusDelay float64 `json:"order_status_delay"`
	PingDelay        float64 `json:"ping_delay"`
}

// CollectionConfig selects websocket or http per data kind
type CollectionConfig struct {
	OrderBook string `json:"order_book"`
	Balance   string `json:"balance"`
	Order     string `json:"order"`
}

// StorageConfig selects the correlator's KV backend
type StorageConfig struct {
	Backend   string `json:"backend"`
	KeyPrefix string `json:"key_prefix"`
	Redis     struct {
		Addr     string `json:"addr"`
		Password Secret `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	SQLite struct {
		Path string `json:"path"`
	} `json:"sqlite"`
}

// StreamConfig addresses one bus stream
type StreamConfig struct {
	Channel  string `json:"channel"`
	StreamID int    `json:"stream_id"`
}

// AeronConfig carries the bus endpoints from the blob. The key name is
// historical; the streams map onto whatever substrate serves them.
type AeronConfig struct {
	Publishers struct {
		OrderBooks StreamConfig `json:"order_books"`
		Balances   StreamConfig `json:"balances"`
		Core       StreamConfig `json:"core"`
		Logs       StreamConfig `json:"logs"`
	} `json:"publishers"`
	Subscribers struct {
		Core StreamConfig `json:"core"`
	} `json:"subscribers"`
}

// Durations of the float-second knobs, with 1 s defaults

func secondsOrDefault(sec float64) time.Duration {
	if sec <= 0 {
		return time.Second
	}
	return time.Duration(sec * float64(time.Second))
}

func (t TimingsConfig) OrderBookInterval() time.Duration   { return secondsOrDefault(t.OrderBookDelay) }
func (t TimingsConfig) BalanceInterval() time.Duration     { return secondsOrDefault(t.BalanceDelay) }
func (t TimingsConfig) OrderStatusInterval() time.Duration { return secondsOrDefault(t.OrderStatusDelay) }
func (t TimingsConfig) PingInterval() time.Duration        { return secondsOrDefault(t.PingDelay) }

// SubscribeDelay is the initial pause before the first subscription attempt
func (r RateLimitsConfig) SubscribeDelay() time.Duration {
	if r.SubscribeTimeout <= 0 {
		return 0
	}
	return time.Duration(r.SubscribeTimeout * float64(time.Second))
}

// AccountsOrDefault returns the multi-account list, falling back to the
// single primary credential set.
func (g GateConfig) AccountsOrDefault() []core.Credentials {
	if len(g.Accounts) > 0 {
		out := make([]core.Credentials, len(g.Accounts))
		for i, a := range g.Accounts {
			out[i] = a.Credentials()
		}
		return out
	}
	return []core.Credentials{g.Exchange.Credentials.Credentials()}
}

// Validate gathers every runtime failure into one error
func (r *Runtime) Validate() error {
	var errs []string

	if r.Gate.Exchange.ExchangeID == "" {
		errs = append(errs, "gate_config.exchange.exchange_id is required")
	}
	if r.Gate.Exchange.Credentials.APIKey == "" && len(r.Gate.Accounts) == 0 {
		errs = append(errs, "gate_config.exchange.credentials or accounts is required")
	}
	if len(r.Symbols) == 0 {
		errs = append(errs, "data.markets is empty")
	}
	if r.Gate.Gate.OrderBookDepth <= 0 {
		errs = append(errs, "gate_config.gate.order_book_depth must be positive")
	}

	for field, method := range map[string]string{
		"data_collection_method.order_book": r.Gate.Collection.OrderBook,
		"data_collection_method.balance":    r.Gate.Collection.Balance,
		"data_collection_method.order":      r.Gate.Collection.Order,
	} {
		if method != "websocket" && method != "http" {
			errs = append(errs, fmt.Sprintf("%s must be websocket or http, got %q", field, method))
		}
	}

	for name, stream := range map[string]StreamConfig{
		"publishers.order_books": r.Gate.Aeron.Publishers.OrderBooks,
		"publishers.balances":    r.Gate.Aeron.Publishers.Balances,
		"publishers.core":        r.Gate.Aeron.Publishers.Core,
		"publishers.logs":        r.Gate.Aeron.Publishers.Logs,
		"subscribers.core":       r.Gate.Aeron.Subscribers.Core,
	} {
		if stream.Channel == "" {
			errs = append(errs, fmt.Sprintf("aeron.%s.channel is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
