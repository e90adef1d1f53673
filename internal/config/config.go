package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadgen-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	SignalHire SignalHireConfig `yaml:"signalhire" mapstructure:"signalhire"`
	Trestle    TrestleConfig    `yaml:"trestle" mapstructure:"trestle"`
	Acquire    AcquireConfig    `yaml:"acquire" mapstructure:"acquire"`
	Reveal     RevealConfig     `yaml:"reveal" mapstructure:"reveal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// SignalHireConfig holds SignalHire API credentials and tuning.
type SignalHireConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	CallbackURL string  `yaml:"callback_url" mapstructure:"callback_url"`
	RateRPS     float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// TrestleConfig holds Trestle Real Contact API settings.
type TrestleConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	VerifyMinScore float64 `yaml:"verify_min_score" mapstructure:"verify_min_score"`
}

// AcquireConfig configures the coverage selector and assignment ledger.
type AcquireConfig struct {
	CoverageThreshold    float64 `yaml:"coverage_threshold" mapstructure:"coverage_threshold"`
	OverfetchMultiplier  int     `yaml:"overfetch_multiplier" mapstructure:"overfetch_multiplier"`
	AssignmentExpiryDays int     `yaml:"assignment_expiry_days" mapstructure:"assignment_expiry_days"`
	CacheFreshDays       int     `yaml:"cache_fresh_days" mapstructure:"cache_fresh_days"`
	ProbeCacheTTLSecs    int     `yaml:"probe_cache_ttl_secs" mapstructure:"probe_cache_ttl_secs"`
	PolicyFile           string  `yaml:"policy_file" mapstructure:"policy_file"`
}

// CacheFreshFor returns the candidate-cache freshness window.
func (c AcquireConfig) CacheFreshFor() time.Duration {
	return time.Duration(c.CacheFreshDays) * 24 * time.Hour
}

// RevealConfig configures the phone-reveal correlator.
type RevealConfig struct {
	ExpiryMins            int `yaml:"expiry_mins" mapstructure:"expiry_mins"`
	SweepIntervalMins     int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
	MaxConcurrentDispatch int `yaml:"max_concurrent_dispatch" mapstructure:"max_concurrent_dispatch"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("signalhire.base_url", "https://api.signalhire.com/v1")
	v.SetDefault("signalhire.rate_rps", 10)
	v.SetDefault("signalhire.rate_burst", 10)
	v.SetDefault("trestle.base_url", "https://api.trestleiq.com/3.0")
	v.SetDefault("trestle.verify_min_score", 0.7)
	v.SetDefault("acquire.coverage_threshold", 0.8)
	v.SetDefault("acquire.overfetch_multiplier", 2)
	v.SetDefault("acquire.assignment_expiry_days", 30)
	v.SetDefault("acquire.cache_fresh_days", 180)
	v.SetDefault("acquire.probe_cache_ttl_secs", 300)
	v.SetDefault("reveal.expiry_mins", 30)
	v.SetDefault("reveal.sweep_interval_mins", 5)
	v.SetDefault("reveal.max_concurrent_dispatch", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
