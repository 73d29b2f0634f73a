package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	APIBaseURL string        `mapstructure:"api_base_url"`
	SignalURL  string        `mapstructure:"signal_url"`
	DebugPort  int           `mapstructure:"debug_port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Reconnect backoff for the realtime channel.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	MaxRetries  int           `mapstructure:"max_retries"`

	// Client-side intent rate limit (sends per interval, per intent type).
	IntentLimit    int           `mapstructure:"intent_limit"`
	IntentInterval time.Duration `mapstructure:"intent_interval"`

	// Volume meter tuning.
	SpeakingLevel int           `mapstructure:"speaking_level"`
	MeterInterval time.Duration `mapstructure:"meter_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("debug_port", 9091)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("backoff_base", "500ms")
	v.SetDefault("backoff_cap", "30s")
	v.SetDefault("max_retries", 8)
	v.SetDefault("intent_limit", 10)
	v.SetDefault("intent_interval", "10s")
	v.SetDefault("speaking_level", 5)
	v.SetDefault("meter_interval", "500ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
