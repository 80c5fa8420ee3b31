/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	StripeWebhookSecret       string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	SignatureToleranceSeconds int    `mapstructure:"SIGNATURE_TOLERANCE_SECONDS"`
	DraftServiceURL           string `mapstructure:"DRAFT_SERVICE_URL"`
	DraftServiceAPIKey        string `mapstructure:"DRAFT_SERVICE_INTERNAL_API_KEY"`
	DraftTimeoutSeconds       int    `mapstructure:"DRAFT_TIMEOUT_SECONDS"`
	AlertWebhookURL           string `mapstructure:"ALERT_WEBHOOK_URL"`
	AlertThrottlePrefix       string `mapstructure:"ALERT_THROTTLE_PREFIX"`
	AlertThrottlePerMinute    int    `mapstructure:"ALERT_THROTTLE_PER_MINUTE"`
	DeadLetterRetryThreshold  int    `mapstructure:"DEAD_LETTER_RETRY_THRESHOLD"`
	RetryWorkerSchedule       string `mapstructure:"RETRY_WORKER_SCHEDULE"`
	RetryInitialDelayMinutes  int    `mapstructure:"RETRY_INITIAL_DELAY_MINUTES"`
	RetryMaxAttempts          int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBatchSize            int    `mapstructure:"RETRY_BATCH_SIZE"`
	OpsJWKSURL                string `mapstructure:"OPS_JWKS_URL"`
	OpsAllowedOrigins         string `mapstructure:"OPS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SIGNATURE_TOLERANCE_SECONDS", 300)
	viper.SetDefault("DRAFT_TIMEOUT_SECONDS", 30)
	viper.SetDefault("ALERT_THROTTLE_PREFIX", "curaline:alert_throttle")
	viper.SetDefault("ALERT_THROTTLE_PER_MINUTE", 10)
	viper.SetDefault("DEAD_LETTER_RETRY_THRESHOLD", 3)
	viper.SetDefault("RETRY_WORKER_SCHEDULE", "*/2 * * * *")
	viper.SetDefault("RETRY_INITIAL_DELAY_MINUTES", 2)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 10)
	viper.SetDefault("RETRY_BATCH_SIZE", 20)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENTS_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("SIGNATURE_TOLERANCE_SECONDS")
	_ = viper.BindEnv("DRAFT_SERVICE_URL")
	_ = viper.BindEnv("DRAFT_SERVICE_INTERNAL_API_KEY", "DRAFT_SERVICE_INTERNAL_API_KEY", "INTERNAL_API_KEY")
	_ = viper.BindEnv("DRAFT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("ALERT_WEBHOOK_URL")
	_ = viper.BindEnv("ALERT_THROTTLE_PREFIX")
	_ = viper.BindEnv("ALERT_THROTTLE_PER_MINUTE")
	_ = viper.BindEnv("DEAD_LETTER_RETRY_THRESHOLD")
	_ = viper.BindEnv("RETRY_WORKER_SCHEDULE")
	_ = viper.BindEnv("RETRY_INITIAL_DELAY_MINUTES")
	_ = viper.BindEnv("RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("RETRY_BATCH_SIZE")
	_ = viper.BindEnv("OPS_JWKS_URL")
	_ = viper.BindEnv("OPS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.DraftServiceAPIKey = strings.TrimSpace(config.DraftServiceAPIKey)
	config.AlertThrottlePrefix = strings.TrimSpace(config.AlertThrottlePrefix)
	if config.AlertThrottlePrefix == "" {
		config.AlertThrottlePrefix = "curaline:alert_throttle"
	}

	if config.SignatureToleranceSeconds <= 0 {
		config.SignatureToleranceSeconds = 300
	}
	if config.DraftTimeoutSeconds <= 0 {
		config.DraftTimeoutSeconds = 30
	}
	if config.AlertThrottlePerMinute <= 0 {
		config.AlertThrottlePerMinute = 10
	}
	if config.DeadLetterRetryThreshold <= 0 {
		config.DeadLetterRetryThreshold = 3
	}
	if strings.TrimSpace(config.RetryWorkerSchedule) == "" {
		config.RetryWorkerSchedule = "*/2 * * * *"
	}
	if config.RetryInitialDelayMinutes <= 0 {
		config.RetryInitialDelayMinutes = 2
	}
	if config.RetryMaxAttempts <= 0 {
		config.RetryMaxAttempts = 10
	}
	if config.RetryBatchSize <= 0 {
		config.RetryBatchSize = 20
	}

	return
}
