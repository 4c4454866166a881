package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DBURL    string `mapstructure:"DB_URL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// GitHub App credentials used for installation tokens.
	GithubAppID         int64  `mapstructure:"GITHUB_APP_ID"`
	GithubAppPrivateKey string `mapstructure:"GITHUB_APP_PRIVATE_KEY"`
	GithubWebhookSecret string `mapstructure:"GITHUB_WEBHOOK_SECRET"`
	GithubBaseURL       string `mapstructure:"GITHUB_BASE_URL"`

	SweepInterval       time.Duration `mapstructure:"SWEEP_INTERVAL"`
	StuckJobThreshold   time.Duration `mapstructure:"STUCK_JOB_THRESHOLD"`
	RestartStuckJobs    bool          `mapstructure:"RESTART_STUCK_JOBS"`
	PermissionStaleness time.Duration `mapstructure:"PERMISSION_STALENESS"`
}

// LoadConfig reads configuration from a .env file and/or environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GITHUB_BASE_URL", "https://api.github.com")
	viper.SetDefault("SWEEP_INTERVAL", "5m")
	viper.SetDefault("STUCK_JOB_THRESHOLD", "30m")
	viper.SetDefault("RESTART_STUCK_JOBS", true)
	viper.SetDefault("PERMISSION_STALENESS", "6h")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubAppID == 0 {
		return nil, errors.New("GITHUB_APP_ID is a required configuration field")
	}
	if cfg.GithubAppPrivateKey == "" {
		return nil, errors.New("GITHUB_APP_PRIVATE_KEY is a required configuration field")
	}

	return &cfg, nil
}
