/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"escrow-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Load reads the configuration from the environment. Malformed durations and
// amounts are errors; the first one is reported.
func Load() (*models.Config, error) {
	e := &env{}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:           e.str("DATABASE_DRIVER", "sqlite3"),
			Path:             e.str("DATABASE_PATH", "escrow.db"),
			MaxOpenConns:     e.number("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     e.number("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  e.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:  e.duration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:      e.duration("DB_PING_TIMEOUT", 5*time.Second),
			BusyTimeout:      e.duration("DB_BUSY_TIMEOUT", 5*time.Second),
			CreateDummyUsers: e.flag("CREATE_DUMMY_USERS", false),
		},
		Settlement: models.SettlementConfig{
			Currency:               e.str("SETTLEMENT_CURRENCY", "USD"),
			MinimumPayout:          e.amount("MIN_PAYOUT", decimal.NewFromInt(10)),
			MaxActiveWithdrawals:   e.number("MAX_ACTIVE_WITHDRAWALS", 3),
			AutoProcessWithdrawals: e.flag("AUTO_PROCESS_WITHDRAWALS", true),
			PayoutMethodsFile:      e.str("PAYOUT_METHODS_FILE", ""),
			PlatformFeePercent:     e.amount("PLATFORM_FEE_PERCENT", decimal.NewFromInt(5)),
		},
		Payout: models.PayoutConfig{
			Provider:         e.str("PAYOUT_PROVIDER", "manual"),
			Timeout:          e.duration("PAYOUT_PROVIDER_TIMEOUT", 30*time.Second),
			PrimePortfolioId: e.str("PRIME_PORTFOLIO_ID", ""),
			PrimeWalletId:    e.str("PRIME_PAYOUT_WALLET_ID", ""),
			PrimeAsset:       e.str("PRIME_PAYOUT_ASSET", "USDC"),
		},
		Listener: models.ListenerConfig{
			PollingInterval: e.duration("LISTENER_POLLING_INTERVAL", 30*time.Second),
			CleanupInterval: e.duration("LISTENER_CLEANUP_INTERVAL", 15*time.Minute),
			ProcessPending:  e.flag("LISTENER_PROCESS_PENDING", true),
			BatchSize:       e.number("LISTENER_BATCH_SIZE", 50),
		},
		Outbox: models.OutboxConfig{
			PollingInterval: e.duration("OUTBOX_POLLING_INTERVAL", 5*time.Second),
			BatchSize:       e.number("OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:     e.number("OUTBOX_MAX_ATTEMPTS", 10),
			BaseBackoff:     e.duration("OUTBOX_BASE_BACKOFF", 2*time.Second),
			MaxBackoff:      e.duration("OUTBOX_MAX_BACKOFF", 10*time.Minute),
		},
		Kafka: models.KafkaConfig{
			Brokers:  e.list("KAFKA_BROKERS"),
			Topic:    e.str("KAFKA_TOPIC", "escrow.notifications"),
			ClientId: e.str("KAFKA_CLIENT_ID", "escrow-settlement"),
		},
		Redis: models.RedisConfig{
			Addr:       e.str("REDIS_ADDR", ""),
			Password:   e.str("REDIS_PASSWORD", ""),
			DB:         e.number("REDIS_DB", 0),
			BalanceTTL: e.duration("REDIS_BALANCE_TTL", 30*time.Second),
		},
		Formance: models.FormanceConfig{
			StackURL:     e.str("FORMANCE_STACK_URL", ""),
			ClientID:     e.str("FORMANCE_CLIENT_ID", ""),
			ClientSecret: e.str("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   e.str("FORMANCE_LEDGER_NAME", "escrow"),
		},
		Metrics: models.MetricsConfig{
			Addr: e.str("METRICS_ADDR", ":9090"),
		},
	}
	if e.err != nil {
		return nil, e.err
	}
	return cfg, nil
}

// env looks up variables and remembers the first parse failure. Counts and
// flags fall back to their default when unparsable.
type env struct {
	err error
}

func (e *env) fail(key, value string, cause error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid value for %s: %q (%w)", key, value, cause)
	}
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

// amount parses a non-negative decimal.
func (e *env) amount(key string, def decimal.Decimal) decimal.Decimal {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err == nil && d.IsNegative() {
		err = fmt.Errorf("must not be negative")
	}
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) number(key string, def int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return def
}

func (e *env) flag(key string, def bool) bool {
	if b, err := strconv.ParseBool(e.str(key, "")); err == nil {
		return b
	}
	return def
}

// list splits a comma separated value, dropping empty items.
func (e *env) list(key string) []string {
	var out []string
	for _, item := range strings.Split(e.str(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
