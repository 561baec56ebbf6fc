package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var globalConfig atomic.Pointer[Config]

func Get() *Config {
	return globalConfig.Load()
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	globalConfig.Store(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.log_level", "INFO")
	v.SetDefault("system.timezone", "UTC")

	v.SetDefault("coordinator.intent_buffer_size", 256)
	v.SetDefault("coordinator.state_buffer_size", 128)
	v.SetDefault("coordinator.control_buffer_size", 32)
	v.SetDefault("coordinator.command_buffer_size", 32)
	v.SetDefault("coordinator.state_refresh_interval_seconds", 5)
	v.SetDefault("coordinator.heartbeat_stale_seconds", 30)
	v.SetDefault("coordinator.submit_timeout_seconds", 10)
	v.SetDefault("coordinator.submit_rate_capacity", 10)
	v.SetDefault("coordinator.submit_rate_per_second", 5)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.daily_loss_limit_usd", 100)
	v.SetDefault("breaker.recovery_timeout_seconds", 300)
	v.SetDefault("breaker.quote_staleness_seconds", 30)
	v.SetDefault("breaker.ws_disconnect_threshold_seconds", 120)
	v.SetDefault("breaker.half_open_success_threshold", 1)
	v.SetDefault("breaker.half_open_max_trades", 1)
	v.SetDefault("breaker.half_open_max_exposure_usd", 25)

	v.SetDefault("risk.max_single_exposure_usd", 100)
	v.SetDefault("risk.max_total_exposure_usd", 1000)
	v.SetDefault("risk.max_strategy_exposure_usd", 500)
	v.SetDefault("risk.max_consecutive_failures", 3)
	v.SetDefault("risk.daily_loss_limit_usd", 500)
	v.SetDefault("risk.min_time_remaining_seconds", 30)
	v.SetDefault("risk.force_close_seconds", 20)
	v.SetDefault("risk.max_spread_bps", 500)

	v.SetDefault("governance.block_new_intents", false)
	v.SetDefault("governance.max_intent_notional_usd", 250)
	v.SetDefault("governance.max_total_notional_usd", 2000)

	v.SetDefault("nonce.cleanup_after_days", 7)

	v.SetDefault("recovery.orphan_age_minutes", 5)
	v.SetDefault("recovery.auto_reconcile", false)

	v.SetDefault("market_data.reconnect_base_ms", 500)
	v.SetDefault("market_data.reconnect_max_ms", 30000)
	v.SetDefault("market_data.stale_warn_interval_ms", 5000)

	v.SetDefault("persistence.pool_size", 10)
	v.SetDefault("persistence.checkpoint_interval_seconds", 30)
	v.SetDefault("persistence.write_buffer_size", 10000)

	v.SetDefault("monitoring.metrics_addr", ":9090")

	v.SetDefault("runtime.gomaxprocs", 0)
	v.SetDefault("runtime.gogc", 400)
	v.SetDefault("runtime.gomemlimit", "2GiB")
}

func WatchAndReload(configPath string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config for watch: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		var newCfg Config
		if err := v.Unmarshal(&newCfg); err != nil {
			slog.Error("failed to unmarshal reloaded config", "error", err)
			return
		}

		validate := validator.New()
		if err := validate.Struct(&newCfg); err != nil {
			slog.Error("reloaded config validation failed", "error", err)
			return
		}

		old := globalConfig.Load()
		globalConfig.Store(&newCfg)
		slog.Info("configuration reloaded successfully")

		if onChange != nil {
			onChange(&newCfg)
		}

		logConfigChanges(old, &newCfg)
	})

	return nil
}

func logConfigChanges(old, new *Config) {
	if old == nil || new == nil {
		return
	}
	if old.Governance.BlockNewIntents != new.Governance.BlockNewIntents {
		slog.Warn("governance block flag changed",
			"old", old.Governance.BlockNewIntents,
			"new", new.Governance.BlockNewIntents,
		)
	}
	if old.System.LogLevel != new.System.LogLevel {
		slog.Info("log level changed",
			"old", old.System.LogLevel,
			"new", new.System.LogLevel,
		)
	}
}
