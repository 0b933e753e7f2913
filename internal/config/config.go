// Package config loads and validates the system configuration: one
// JSON document covering every tunable named in the broker, risk,
// execution, morph, reconciliation, write-behind, and storage layers.
// Mirrors the load-or-default-then-validate shape of the teacher's
// risk policy loader, swapped from hand-rolled field checks to
// go-playground/validator struct tags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// BrokerConfig configures the REST broker gateway and its circuit
// breaker.
type BrokerConfig struct {
	BaseURL         string        `json:"base_url" validate:"required,url"`
	APIKey          string        `json:"api_key" validate:"required"`
	AccessToken     string        `json:"access_token"`
	Timeout         time.Duration `json:"timeout" validate:"required"`
	BreakerMaxFail  uint32        `json:"breaker_max_failures" validate:"required"`
	BreakerTimeout  time.Duration `json:"breaker_timeout" validate:"required"`
}

// RiskConfig configures account and underlying risk limits.
type RiskConfig struct {
	DailyLossLimit         string  `json:"daily_loss_limit"`
	DailyLossWarningThresh float64 `json:"daily_loss_warning_threshold" validate:"gte=0,lte=1"`
	MaxMarginUtilization   float64 `json:"max_margin_utilization" validate:"gte=0,lte=1"`
	MaxOpenPositions       int     `json:"max_open_positions" validate:"gte=0"`
	MaxOpenOrders          int     `json:"max_open_orders" validate:"gte=0"`
	MaxActiveStrategies    int     `json:"max_active_strategies" validate:"gte=0"`
	MaxLossPerPosition     string  `json:"max_loss_per_position"`
	MaxProfitPerPosition   string  `json:"max_profit_per_position"`
	MaxLotsPerPosition     int64   `json:"max_lots_per_position" validate:"gte=0"`
	MaxPositionValue       string  `json:"max_position_value"`
	MaxLossPerStrategy     string  `json:"max_loss_per_strategy"`
	MaxLegsPerStrategy     int     `json:"max_legs_per_strategy" validate:"gte=0"`
}

// UnderlyingLimitConfig caps lots per underlying symbol.
type UnderlyingLimitConfig struct {
	Underlying string `json:"underlying" validate:"required"`
	MaxLots    int64  `json:"max_lots" validate:"gte=0"`
}

// ExecutionConfig configures the multi-leg executor.
type ExecutionConfig struct {
	DefaultFillTimeout time.Duration `json:"default_fill_timeout" validate:"required"`
}

// MorphConfig configures the morph engine.
type MorphConfig struct {
	Enabled        bool `json:"enabled"`
	MaxLegsToClose int  `json:"max_legs_to_close" validate:"gte=0"`
}

// ReconciliationConfig configures the periodic reconciliation job.
type ReconciliationConfig struct {
	Interval          time.Duration `json:"interval" validate:"required"`
	PriceDriftPercent float64       `json:"price_drift_percent" validate:"gt=0"`
}

// WriteBehindConfig configures the trade/audit queue capacities and
// flush cadence.
type WriteBehindConfig struct {
	TradeQueueCapacity int           `json:"trade_queue_capacity" validate:"required,gt=0"`
	AuditQueueCapacity int           `json:"audit_queue_capacity" validate:"required,gt=0"`
	FlushInterval      time.Duration `json:"flush_interval" validate:"required"`
	MaxFlushBatch      int           `json:"max_flush_batch" validate:"required,gt=0"`
}

// KillSwitchConfig configures kill-switch fan-out timing.
type KillSwitchConfig struct {
	FanoutTimeout time.Duration `json:"fanout_timeout" validate:"required"`
	RetryAttempts int           `json:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `json:"retry_delay" validate:"required"`
}

// RedisConfig configures a Redis connection, shared by the KV and
// time-series stores.
type RedisConfig struct {
	Addr      string        `json:"addr" validate:"required"`
	Password  string        `json:"password"`
	DB        int           `json:"db" validate:"gte=0"`
	Retention time.Duration `json:"retention"`
}

// PostgresConfig configures the journal/audit Postgres connection.
type PostgresConfig struct {
	DSN              string `json:"dsn" validate:"required"`
	MigrationsSource string `json:"migrations_source" validate:"required"`
}

// MarketConfig configures the market-data time zone bar close-times and
// the session clock are expressed in.
type MarketConfig struct {
	Zone string `json:"zone" validate:"required"`
}

// IndicatorDefinitionConfig is one configured indicator on one
// instrument: a type tag (RSI, EMA, SMA, MACD, BOLLINGER, SUPERTREND,
// VWAP, ATR, STOCHASTIC, LTP) and its scalar parameters.
type IndicatorDefinitionConfig struct {
	Type   string             `json:"type" validate:"required"`
	Params map[string]float64 `json:"params"`
}

// IndicatorInstrumentConfig configures one instrument's bar series and
// the indicators tracked against it.
type IndicatorInstrumentConfig struct {
	InstrumentToken int64                       `json:"instrument_token" validate:"required"`
	TradingSymbol   string                       `json:"trading_symbol" validate:"required"`
	BarDuration     time.Duration                `json:"bar_duration" validate:"required"`
	MaxBars         int                          `json:"max_bars" validate:"required,gt=0"`
	Indicators      []IndicatorDefinitionConfig `json:"indicators" validate:"dive"`
}

// IndicatorsConfig configures the Indicator Engine and Bar Series Store.
type IndicatorsConfig struct {
	Enabled     bool                        `json:"enabled"`
	Instruments []IndicatorInstrumentConfig `json:"instruments" validate:"dive"`
}

// Config is the full, validated system configuration.
type Config struct {
	Broker           BrokerConfig            `json:"broker" validate:"required"`
	Risk             RiskConfig              `json:"risk" validate:"required"`
	UnderlyingLimits []UnderlyingLimitConfig `json:"underlying_limits" validate:"dive"`
	Execution        ExecutionConfig         `json:"execution" validate:"required"`
	Morph            MorphConfig             `json:"morph"`
	Reconciliation   ReconciliationConfig    `json:"reconciliation" validate:"required"`
	WriteBehind      WriteBehindConfig       `json:"write_behind" validate:"required"`
	KillSwitch       KillSwitchConfig        `json:"kill_switch" validate:"required"`
	Redis            RedisConfig             `json:"redis" validate:"required"`
	Postgres         PostgresConfig          `json:"postgres" validate:"required"`
	Market           MarketConfig            `json:"market" validate:"required"`
	Indicators       IndicatorsConfig        `json:"indicators"`

	// LoadedFrom is the file path the config was read from (empty for
	// defaults).
	LoadedFrom string `json:"-"`
}

var validate = validator.New()

// Load reads a JSON file and returns a validated Config. An empty path
// or a missing file returns Default(), so the system can start with no
// config file present in development.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.LoadedFrom = path

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid config in %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns a conservative configuration suitable for local
// development against a paper/sandbox broker.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			BaseURL:        "http://localhost:8080",
			Timeout:        10 * time.Second,
			BreakerMaxFail: 5,
			BreakerTimeout: 30 * time.Second,
		},
		Risk: RiskConfig{
			DailyLossWarningThresh: 0.8,
			MaxMarginUtilization:   0.8,
			MaxOpenPositions:       20,
			MaxOpenOrders:          50,
			MaxActiveStrategies:    10,
			MaxLotsPerPosition:     50,
			MaxLegsPerStrategy:     4,
		},
		Execution: ExecutionConfig{
			DefaultFillTimeout: 30 * time.Second,
		},
		Morph: MorphConfig{
			Enabled:        false,
			MaxLegsToClose: 4,
		},
		Reconciliation: ReconciliationConfig{
			Interval:          5 * time.Minute,
			PriceDriftPercent: 0.02,
		},
		WriteBehind: WriteBehindConfig{
			TradeQueueCapacity: 1000,
			AuditQueueCapacity: 1000,
			FlushInterval:      2 * time.Second,
			MaxFlushBatch:      500,
		},
		KillSwitch: KillSwitchConfig{
			FanoutTimeout: 30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Retention: 7 * 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			DSN:              "postgres://localhost:5432/ironcondor",
			MigrationsSource: "file://internal/storage/audit/migrations",
		},
		Market: MarketConfig{
			Zone: "Asia/Kolkata",
		},
		Indicators: IndicatorsConfig{
			Enabled:     false,
			Instruments: nil,
		},
	}
}
