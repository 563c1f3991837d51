/**
 * @description
 * Configuration for the ledger service. Values come from environment variables and an
 * optional .env file, read through Viper. Malformed values are coerced to safe defaults
 * with a warning instead of failing the boot.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 * - github.com/google/uuid, github.com/shopspring/decimal: typed parsing of ids and money.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultServerPort          = "8080"
	defaultEventsExchange      = "ledger_events"
	defaultRedisLockPrefix     = "ledger:lock"
	defaultAccrualInterval     = time.Minute
	defaultMemoryLenderBalance = "1000000.00"
)

// Config holds the settings for the ledger service. The *Raw fields mirror the
// environment; the typed fields below them are derived by LoadConfig.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	StoreDriver            string `mapstructure:"STORE_DRIVER"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventsExchange         string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisLockPrefix        string `mapstructure:"REDIS_LOCK_PREFIX"`
	LenderAccountIDRaw     string `mapstructure:"LENDER_ACCOUNT_ID"`
	BankUserIDRaw          string `mapstructure:"BANK_USER_ID"`
	AccrualIntervalRaw     string `mapstructure:"INTEREST_ACCRUAL_INTERVAL"`
	MemoryLenderBalanceRaw string `mapstructure:"MEMORY_LENDER_BALANCE"`

	LenderAccountID     uuid.UUID       `mapstructure:"-"`
	BankUserID          uuid.UUID       `mapstructure:"-"`
	AccrualInterval     time.Duration   `mapstructure:"-"`
	MemoryLenderBalance decimal.Decimal `mapstructure:"-"`
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("REDIS_LOCK_PREFIX", defaultRedisLockPrefix)
	viper.SetDefault("INTEREST_ACCRUAL_INTERVAL", defaultAccrualInterval.String())
	viper.SetDefault("MEMORY_LENDER_BALANCE", defaultMemoryLenderBalance)

	// Bind explicitly so keys without defaults still reach Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("LENDER_ACCOUNT_ID")
	_ = viper.BindEnv("BANK_USER_ID")
	_ = viper.BindEnv("INTEREST_ACCRUAL_INTERVAL")
	_ = viper.BindEnv("MEMORY_LENDER_BALANCE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = defaultRedisLockPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}

	config.StoreDriver = resolveStoreDriver(config.StoreDriver, config.DatabaseURL)
	config.LenderAccountID = parseID("LENDER_ACCOUNT_ID", config.LenderAccountIDRaw)
	config.BankUserID = parseID("BANK_USER_ID", config.BankUserIDRaw)
	config.AccrualInterval = parseInterval(config.AccrualIntervalRaw)
	config.MemoryLenderBalance = parseBalance(config.MemoryLenderBalanceRaw)

	return config, nil
}

// resolveStoreDriver defaults to postgres when a database is configured and to the
// in-memory store otherwise.
func resolveStoreDriver(raw, databaseURL string) string {
	fallback := StoreDriverMemory
	if databaseURL != "" {
		fallback = StoreDriverPostgres
	}

	driver := strings.ToLower(strings.TrimSpace(raw))
	switch driver {
	case "":
		return fallback
	case StoreDriverPostgres, StoreDriverMemory:
		return driver
	default:
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; using default\" value=%q driver=%s", raw, fallback)
		return fallback
	}
}

func parseID(key, raw string) uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid %s; ignoring\" value=%q err=%v", key, raw, err)
		return uuid.Nil
	}
	return id
}

func parseInterval(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	interval, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid INTEREST_ACCRUAL_INTERVAL; using default\" value=%q err=%v", raw, err)
		return defaultAccrualInterval
	}
	if interval < time.Second {
		log.Printf("level=warn component=config msg=\"INTEREST_ACCRUAL_INTERVAL below one second; using default\" value=%q", raw)
		return defaultAccrualInterval
	}
	return interval
}

func parseBalance(raw string) decimal.Decimal {
	fallback := decimal.RequireFromString(defaultMemoryLenderBalance)
	balance, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid MEMORY_LENDER_BALANCE; using default\" value=%q err=%v", raw, err)
		return fallback
	}
	if balance.IsNegative() {
		log.Printf("level=warn component=config msg=\"negative MEMORY_LENDER_BALANCE; using default\" value=%q", raw)
		return fallback
	}
	return balance.Round(2)
}
