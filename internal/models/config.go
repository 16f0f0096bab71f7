package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Settlement SettlementConfig
	Payout     PayoutConfig
	Listener   ListenerConfig
	Outbox     OutboxConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Formance   FormanceConfig
	Metrics    MetricsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver           string // "sqlite3" or "pgx"
	Path             string // file path for sqlite3, DSN for pgx
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration
	BusyTimeout      time.Duration
	CreateDummyUsers bool
}

// SettlementConfig holds the money-movement rules
type SettlementConfig struct {
	Currency               string
	MinimumPayout          decimal.Decimal
	MaxActiveWithdrawals   int
	AutoProcessWithdrawals bool
	PayoutMethodsFile      string
	PlatformFeePercent     decimal.Decimal
}

// PayoutConfig selects and configures the payout provider
type PayoutConfig struct {
	Provider         string // "prime" or "manual"
	Timeout          time.Duration
	PrimePortfolioId string
	PrimeWalletId    string
	PrimeAsset       string
}

// ListenerConfig holds payout status listener settings
type ListenerConfig struct {
	PollingInterval time.Duration
	CleanupInterval time.Duration
	ProcessPending  bool
	BatchSize       int
}

// OutboxConfig holds notification dispatcher settings
type OutboxConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
}

// KafkaConfig holds the notification topic settings. Empty Brokers disables the sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientId string
}

// RedisConfig holds balance cache settings. Empty Addr disables the cache.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	BalanceTTL time.Duration
}

// FormanceConfig holds journal mirror settings. Empty StackURL disables the mirror.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Addr string
}
