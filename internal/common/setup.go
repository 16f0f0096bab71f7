package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"escrow-settlement-go/internal/api"
	"escrow-settlement-go/internal/cache"
	"escrow-settlement-go/internal/database"
	"escrow-settlement-go/internal/formance"
	"escrow-settlement-go/internal/metrics"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/notify"
	"escrow-settlement-go/internal/payout"
	"escrow-settlement-go/internal/prime"
	"escrow-settlement-go/internal/settlement"

	"github.com/IBM/sarama"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the fully wired settlement engine used by the binaries.
type Services struct {
	DbService   *database.Service
	Ledger      *api.LedgerService
	Escrow      *settlement.EscrowService
	Milestones  *settlement.MilestoneService
	Withdrawals *settlement.WithdrawalService
	Provider    payout.Provider
	Fees        *settlement.FeeSchedule
	Sinks       []notify.Sink
	Journal     *formance.JournalMirror // nil unless FORMANCE_STACK_URL is set
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry

	redis    *redis.Client
	producer sarama.SyncProducer
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the ledger store and wires every optional backend
// that is configured. Anything left unconfigured is skipped with a log line.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := &Services{
		DbService: dbService,
		Metrics:   m,
		Registry:  registry,
	}

	fees, err := LoadFeeSchedule(cfg.Settlement.PayoutMethodsFile)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Fees = fees

	provider, err := initializeProvider(ctx, cfg.Payout)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Provider = payout.WithTimeout(provider, cfg.Payout.Timeout, m)

	deps := settlement.Dependencies{Store: dbService, Metrics: m}
	svc.Ledger = api.NewLedgerService(dbService, nil)
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.redis = client
		balanceCache := cache.NewBalanceCache(client, cfg.Redis.BalanceTTL, m)
		deps.Cache = balanceCache
		svc.Ledger = api.NewLedgerService(dbService, balanceCache)
	} else {
		zap.L().Info("REDIS_ADDR not set, balance cache disabled")
	}

	svc.Escrow = settlement.NewEscrowService(settlement.EscrowServiceConfig{
		Dependencies:       deps,
		Currency:           cfg.Settlement.Currency,
		PlatformFeePercent: cfg.Settlement.PlatformFeePercent,
	})
	svc.Milestones = settlement.NewMilestoneService(deps)
	svc.Withdrawals = settlement.NewWithdrawalService(settlement.WithdrawalServiceConfig{
		Dependencies:         deps,
		Provider:             svc.Provider,
		Fees:                 fees,
		Currency:             cfg.Settlement.Currency,
		MinimumPayout:        cfg.Settlement.MinimumPayout,
		MaxActiveWithdrawals: cfg.Settlement.MaxActiveWithdrawals,
		AutoProcess:          cfg.Settlement.AutoProcessWithdrawals,
	})

	if err := svc.initializeSinks(ctx, cfg); err != nil {
		svc.Close()
		return nil, err
	}

	return svc, nil
}

// initializeProvider builds the configured payout provider. The Prime provider
// resolves its payout wallet from the portfolio when none is configured.
func initializeProvider(ctx context.Context, cfg models.PayoutConfig) (payout.Provider, error) {
	switch cfg.Provider {
	case "", "manual":
		zap.L().Info("Using manual payout provider")
		return payout.Manual{}, nil
	case "prime":
	default:
		return nil, fmt.Errorf("unknown payout provider %q", cfg.Provider)
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, err
	}

	primeService, err := prime.NewService(creds, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	portfolioId := cfg.PrimePortfolioId
	if portfolioId == "" {
		zap.L().Info("Finding default portfolio")
		id, name, err := primeService.DefaultPortfolio(ctx)
		if err != nil {
			return nil, err
		}
		portfolioId = id
		zap.L().Info("Using default portfolio",
			zap.String("name", name),
			zap.String("id", id))
	}

	walletId := cfg.PrimeWalletId
	if walletId == "" {
		walletId, err = primeService.ResolvePayoutWallet(ctx, portfolioId, cfg.PrimeAsset)
		if err != nil {
			return nil, err
		}
	}

	return prime.NewPayoutProvider(primeService, prime.PayoutProviderConfig{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		Asset:       cfg.PrimeAsset,
	})
}

func (cs *Services) initializeSinks(ctx context.Context, cfg *models.Config) error {
	cs.Sinks = []notify.Sink{notify.LogSink{}}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		cs.producer = producer
		cs.Sinks = append(cs.Sinks, notify.NewKafkaSink(producer, cfg.Kafka.Topic))
		zap.L().Info("Kafka notification sink enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Formance.StackURL != "" {
		journal, err := formance.NewJournalMirror(ctx, cfg.Formance, cfg.Settlement.Currency)
		if err != nil {
			return err
		}
		cs.Journal = journal
		cs.Sinks = append(cs.Sinks, journal)
	}
	return nil
}

// NewDispatcher builds the outbox dispatcher over the configured sinks.
func (cs *Services) NewDispatcher(cfg models.OutboxConfig) *notify.Dispatcher {
	return notify.NewDispatcher(notify.DispatcherConfig{
		Store:           cs.DbService,
		Sinks:           cs.Sinks,
		Metrics:         cs.Metrics,
		PollingInterval: cfg.PollingInterval,
		BatchSize:       cfg.BatchSize,
		MaxAttempts:     cfg.MaxAttempts,
		BaseBackoff:     cfg.BaseBackoff,
		MaxBackoff:      cfg.MaxBackoff,
	})
}

// InitializeDatabaseOnly initializes just the database service without any provider
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.producer != nil {
		if err := cs.producer.Close(); err != nil {
			zap.L().Warn("Failed to close Kafka producer", zap.Error(err))
		}
	}
	if cs.redis != nil {
		if err := cs.redis.Close(); err != nil {
			zap.L().Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

// CommandContext tags ctx with the acting account so ledger entries written
// by a CLI invocation can be traced back to it.
func CommandContext(ctx context.Context, actorId string) context.Context {
	return models.WithRequestMetadata(ctx, &models.RequestMetadata{
		RequestId: uuid.NewString(),
		ActorId:   actorId,
		Source:    "cli",
	})
}

// ShutdownTimeout bounds graceful shutdown of the long-running binaries.
const ShutdownTimeout = 10 * time.Second

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
