package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	System      SystemConfig      `mapstructure:"system" validate:"required"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" validate:"required"`
	Breaker     BreakerConfig     `mapstructure:"breaker" validate:"required"`
	Risk        RiskConfig        `mapstructure:"risk" validate:"required"`
	Governance  GovernanceConfig  `mapstructure:"governance"`
	Nonce       NonceConfig       `mapstructure:"nonce" validate:"required"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	MarketData  MarketDataConfig  `mapstructure:"market_data"`
	Persistence PersistenceConfig `mapstructure:"persistence" validate:"required"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
}

type SystemConfig struct {
	InstanceID string `mapstructure:"instance_id" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Timezone   string `mapstructure:"timezone" validate:"required"`
}

type CoordinatorConfig struct {
	IntentBufferSize      int `mapstructure:"intent_buffer_size" validate:"required,gt=0"`
	StateBufferSize       int `mapstructure:"state_buffer_size" validate:"required,gt=0"`
	ControlBufferSize     int `mapstructure:"control_buffer_size" validate:"required,gt=0"`
	CommandBufferSize     int `mapstructure:"command_buffer_size" validate:"required,gt=0"`
	StateRefreshIntervalS int `mapstructure:"state_refresh_interval_seconds" validate:"required,gt=0"`
	HeartbeatStaleS       int `mapstructure:"heartbeat_stale_seconds" validate:"required,gt=0"`
	SubmitTimeoutS        int `mapstructure:"submit_timeout_seconds" validate:"required,gt=0"`
	SubmitRateCapacity    int `mapstructure:"submit_rate_capacity" validate:"required,gt=0"`
	SubmitRatePerSecond   int `mapstructure:"submit_rate_per_second" validate:"required,gt=0"`
}

func (c CoordinatorConfig) StateRefreshInterval() time.Duration {
	return time.Duration(c.StateRefreshIntervalS) * time.Second
}

func (c CoordinatorConfig) HeartbeatStaleAfter() time.Duration {
	return time.Duration(c.HeartbeatStaleS) * time.Second
}

func (c CoordinatorConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutS) * time.Second
}

type BreakerConfig struct {
	FailureThreshold         int             `mapstructure:"failure_threshold" validate:"required,gt=0"`
	DailyLossLimitUSD        decimal.Decimal `mapstructure:"daily_loss_limit_usd" validate:"required"`
	RecoveryTimeoutS         int             `mapstructure:"recovery_timeout_seconds" validate:"required,gt=0"`
	QuoteStalenessS          int             `mapstructure:"quote_staleness_seconds" validate:"required,gt=0"`
	WsDisconnectThresholdS   int             `mapstructure:"ws_disconnect_threshold_seconds" validate:"required,gt=0"`
	HalfOpenSuccessThreshold int             `mapstructure:"half_open_success_threshold" validate:"required,gt=0"`
	HalfOpenMaxTrades        int             `mapstructure:"half_open_max_trades" validate:"required,gt=0"`
	HalfOpenMaxExposureUSD   decimal.Decimal `mapstructure:"half_open_max_exposure_usd" validate:"required"`
}

func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutS) * time.Second
}

func (c BreakerConfig) QuoteStaleness() time.Duration {
	return time.Duration(c.QuoteStalenessS) * time.Second
}

func (c BreakerConfig) WsDisconnectThreshold() time.Duration {
	return time.Duration(c.WsDisconnectThresholdS) * time.Second
}

type RiskConfig struct {
	MaxSingleExposureUSD   decimal.Decimal `mapstructure:"max_single_exposure_usd" validate:"required"`
	MaxTotalExposureUSD    decimal.Decimal `mapstructure:"max_total_exposure_usd" validate:"required"`
	MaxStrategyExposureUSD decimal.Decimal `mapstructure:"max_strategy_exposure_usd" validate:"required"`
	MaxConsecutiveFailures int             `mapstructure:"max_consecutive_failures" validate:"required,gt=0"`
	DailyLossLimitUSD      decimal.Decimal `mapstructure:"daily_loss_limit_usd" validate:"required"`
	MinTimeRemainingS      int             `mapstructure:"min_time_remaining_seconds" validate:"gte=0"`
	ForceCloseS            int             `mapstructure:"force_close_seconds" validate:"gte=0"`
	MaxSpreadBps           int             `mapstructure:"max_spread_bps" validate:"required,gt=0"`
}

func (c RiskConfig) MinTimeRemaining() time.Duration {
	return time.Duration(c.MinTimeRemainingS) * time.Second
}

func (c RiskConfig) ForceCloseWindow() time.Duration {
	return time.Duration(c.ForceCloseS) * time.Second
}

type GovernanceConfig struct {
	BlockNewIntents      bool            `mapstructure:"block_new_intents"`
	BlockedDomains       []string        `mapstructure:"blocked_domains"`
	MaxIntentNotionalUSD decimal.Decimal `mapstructure:"max_intent_notional_usd"`
	MaxTotalNotionalUSD  decimal.Decimal `mapstructure:"max_total_notional_usd"`
}

type NonceConfig struct {
	Wallet           string `mapstructure:"wallet" validate:"required"`
	CleanupAfterDays int    `mapstructure:"cleanup_after_days" validate:"gt=0"`
}

func (c NonceConfig) CleanupAfter() time.Duration {
	return time.Duration(c.CleanupAfterDays) * 24 * time.Hour
}

type RecoveryConfig struct {
	OrphanAgeMinutes int  `mapstructure:"orphan_age_minutes" validate:"gt=0"`
	AutoReconcile    bool `mapstructure:"auto_reconcile"`
}

func (c RecoveryConfig) OrphanAge() time.Duration {
	return time.Duration(c.OrphanAgeMinutes) * time.Minute
}

type MarketDataConfig struct {
	WsURL               string   `mapstructure:"ws_url" validate:"omitempty,url"`
	Markets             []string `mapstructure:"markets"`
	ReconnectBaseMs     int      `mapstructure:"reconnect_base_ms" validate:"gt=0"`
	ReconnectMaxMs      int      `mapstructure:"reconnect_max_ms" validate:"gt=0"`
	StaleWarnIntervalMs int      `mapstructure:"stale_warn_interval_ms" validate:"gt=0"`
}

func (c MarketDataConfig) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

func (c MarketDataConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

func (c MarketDataConfig) StaleWarnInterval() time.Duration {
	return time.Duration(c.StaleWarnIntervalMs) * time.Millisecond
}

type PersistenceConfig struct {
	StoreDSN            string `mapstructure:"store_dsn" validate:"required"`
	PoolSize            int    `mapstructure:"pool_size" validate:"gt=0"`
	CheckpointDB        string `mapstructure:"checkpoint_db" validate:"required"`
	CheckpointIntervalS int    `mapstructure:"checkpoint_interval_seconds" validate:"gt=0"`
	WriteBufferSize     int    `mapstructure:"write_buffer_size" validate:"gt=0"`
}

func (c PersistenceConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalS) * time.Second
}

type MonitoringConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type RuntimeConfig struct {
	GoMaxProcs int    `mapstructure:"gomaxprocs"`
	GOGC       int    `mapstructure:"gogc"`
	GoMemLimit string `mapstructure:"gomemlimit"`
}
