/**
 * @description
 * This package handles the configuration management for the banking-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, then normalizes the values the service depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Parses dollar amounts for fees and card limits.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultACHFee                 = "2.00"
	defaultWireFee                = "25.00"
	defaultInternationalFee       = "45.00"
	defaultCardDailyLimit         = "1000.00"
	defaultCardMonthlyLimit       = "5000.00"
	defaultTransferRatePerMinute  = 20
	defaultIdempotencyTTLMinutes  = 1440
	defaultDailyResetSchedule     = "0 0 * * *"
	defaultMonthlyResetSchedule   = "0 0 1 * *"
	defaultEventExchange          = "banking_events"
	defaultSettlementQueue        = "banking_service.settlement_updates"
	defaultKafkaTopic             = "banking-events"
	defaultRoutingNumber          = "021000021"
	defaultRedisKeyPrefix         = "banking"
	defaultAdminRole              = "admin"
	defaultStorageDriver          = "postgres"
	defaultEventBroker            = "rabbitmq"
	defaultLogLevel               = "info"
	defaultServerPort             = "8080"
	defaultRequestTimeoutSeconds  = 30
	defaultShutdownTimeoutSeconds = 15
)

// Config holds all the configuration variables for the banking-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`
	StorageDriver              string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RunMigrations              bool   `mapstructure:"RUN_MIGRATIONS"`
	EventBroker                string `mapstructure:"EVENT_BROKER"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventExchange              string `mapstructure:"EVENT_EXCHANGE"`
	SettlementQueue            string `mapstructure:"SETTLEMENT_QUEUE"`
	KafkaBrokers               string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic                 string `mapstructure:"KAFKA_TOPIC"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string `mapstructure:"REDIS_KEY_PREFIX"`
	ClerkJWKSURL               string `mapstructure:"CLERK_JWKS_URL"`
	AdminRole                  string `mapstructure:"ADMIN_ROLE"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	RoutingNumber              string `mapstructure:"ROUTING_NUMBER"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	IdempotencyTTLMinutes      int    `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
	CardDailyResetSchedule     string `mapstructure:"CARD_DAILY_RESET_SCHEDULE"`
	CardMonthlyResetSchedule   string `mapstructure:"CARD_MONTHLY_RESET_SCHEDULE"`
	RequestTimeoutSeconds      int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	ShutdownTimeoutSeconds     int    `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`

	// Dollar amounts, converted to cents after unmarshal.
	ACHFeeCents           int64 `mapstructure:"-"`
	WireFeeCents          int64 `mapstructure:"-"`
	InternationalFeeCents int64 `mapstructure:"-"`
	CardDailyLimitCents   int64 `mapstructure:"-"`
	CardMonthlyLimitCents int64 `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("STORAGE_DRIVER", defaultStorageDriver)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("EVENT_BROKER", defaultEventBroker)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("SETTLEMENT_QUEUE", defaultSettlementQueue)
	viper.SetDefault("KAFKA_TOPIC", defaultKafkaTopic)
	viper.SetDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix)
	viper.SetDefault("ADMIN_ROLE", defaultAdminRole)
	viper.SetDefault("ROUTING_NUMBER", defaultRoutingNumber)
	viper.SetDefault("ACH_FEE", defaultACHFee)
	viper.SetDefault("WIRE_FEE", defaultWireFee)
	viper.SetDefault("INTERNATIONAL_FEE", defaultInternationalFee)
	viper.SetDefault("DEFAULT_CARD_DAILY_LIMIT", defaultCardDailyLimit)
	viper.SetDefault("DEFAULT_CARD_MONTHLY_LIMIT", defaultCardMonthlyLimit)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", defaultTransferRatePerMinute)
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", defaultIdempotencyTTLMinutes)
	viper.SetDefault("CARD_DAILY_RESET_SCHEDULE", defaultDailyResetSchedule)
	viper.SetDefault("CARD_MONTHLY_RESET_SCHEDULE", defaultMonthlyResetSchedule)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", defaultRequestTimeoutSeconds)
	viper.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSeconds)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("STORAGE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_QUEUE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("KAFKA_TOPIC")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("ADMIN_ROLE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BANKING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ROUTING_NUMBER")
	_ = viper.BindEnv("ACH_FEE")
	_ = viper.BindEnv("WIRE_FEE")
	_ = viper.BindEnv("INTERNATIONAL_FEE")
	_ = viper.BindEnv("DEFAULT_CARD_DAILY_LIMIT")
	_ = viper.BindEnv("DEFAULT_CARD_MONTHLY_LIMIT")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("CARD_DAILY_RESET_SCHEDULE")
	_ = viper.BindEnv("CARD_MONTHLY_RESET_SCHEDULE")
	_ = viper.BindEnv("REQUEST_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SHUTDOWN_TIMEOUT_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	config.StorageDriver = oneOf("STORAGE_DRIVER", config.StorageDriver, defaultStorageDriver, "postgres", "memory")
	config.EventBroker = oneOf("EVENT_BROKER", config.EventBroker, defaultEventBroker, "rabbitmq", "kafka", "none")
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.KafkaBrokers = strings.TrimSpace(config.KafkaBrokers)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.ClerkJWKSURL = strings.TrimSpace(config.ClerkJWKSURL)
	config.RedisKeyPrefix = nonEmpty(config.RedisKeyPrefix, defaultRedisKeyPrefix)
	config.AdminRole = nonEmpty(config.AdminRole, defaultAdminRole)
	config.RoutingNumber = nonEmpty(config.RoutingNumber, defaultRoutingNumber)
	config.EventExchange = nonEmpty(config.EventExchange, defaultEventExchange)
	config.SettlementQueue = nonEmpty(config.SettlementQueue, defaultSettlementQueue)
	config.KafkaTopic = nonEmpty(config.KafkaTopic, defaultKafkaTopic)
	config.CardDailyResetSchedule = nonEmpty(config.CardDailyResetSchedule, defaultDailyResetSchedule)
	config.CardMonthlyResetSchedule = nonEmpty(config.CardMonthlyResetSchedule, defaultMonthlyResetSchedule)

	config.ACHFeeCents = dollarsToCents("ACH_FEE", defaultACHFee, true)
	config.WireFeeCents = dollarsToCents("WIRE_FEE", defaultWireFee, true)
	config.InternationalFeeCents = dollarsToCents("INTERNATIONAL_FEE", defaultInternationalFee, true)
	config.CardDailyLimitCents = dollarsToCents("DEFAULT_CARD_DAILY_LIMIT", defaultCardDailyLimit, false)
	// Zero disables the monthly limit.
	config.CardMonthlyLimitCents = dollarsToCents("DEFAULT_CARD_MONTHLY_LIMIT", defaultCardMonthlyLimit, true)

	if config.TransferRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit configured; using default\" value=%d", config.TransferRateLimitPerMinute)
		config.TransferRateLimitPerMinute = defaultTransferRatePerMinute
	}
	if config.IdempotencyTTLMinutes <= 0 {
		config.IdempotencyTTLMinutes = defaultIdempotencyTTLMinutes
	}
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if config.ShutdownTimeoutSeconds <= 0 {
		config.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}

	return
}

// dollarsToCents reads key as a decimal dollar amount. Unparseable, negative or
// sub-cent values are logged and replaced by fallback.
func dollarsToCents(key, fallback string, allowZero bool) int64 {
	fallbackCents := decimal.RequireFromString(fallback).Shift(2).IntPart()

	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallbackCents
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(raw, "$"))
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid amount; using default\" key=%s value=%q err=%v", key, raw, err)
		return fallbackCents
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		log.Printf("level=warn component=config msg=\"amount has sub-cent precision; using default\" key=%s value=%q", key, raw)
		return fallbackCents
	}
	if cents.IsNegative() || (!allowZero && cents.IsZero()) {
		log.Printf("level=warn component=config msg=\"amount out of range; using default\" key=%s value=%q", key, raw)
		return fallbackCents
	}
	return cents.IntPart()
}

func oneOf(key, value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	log.Printf("level=warn component=config msg=\"unsupported value; using default\" key=%s value=%q default=%q", key, value, fallback)
	return fallback
}

func nonEmpty(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
