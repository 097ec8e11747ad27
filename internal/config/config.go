package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	RedisURL string `mapstructure:"redis_url"`

	RelayURL    string   `mapstructure:"relay_url"`
	RelayAPIURL string   `mapstructure:"relay_api_url"`
	ICEURLs     []string `mapstructure:"ice_urls"`

	RealtimeTokenURL string `mapstructure:"realtime_token_url"`
	RealtimeBaseURL  string `mapstructure:"realtime_base_url"`

	SessionMinutes int `mapstructure:"session_minutes"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "stormcall-dev-secret")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("relay_api_url", "http://localhost:8080")
	v.SetDefault("ice_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("realtime_token_url", "http://localhost:8081/api/realtime/ephemeral-key")
	v.SetDefault("realtime_base_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("session_minutes", 60)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
