/**
 * @description
 * Process bootstrap shared by the ledgerd commands: configuration, logging, the store,
 * the event publisher and the optional Redis tick lock.
 *
 * @notes
 * - RabbitMQ and Redis are optional. Without them events fall back to a no-op publisher
 *   and every accrual tick runs locally.
 * - The memory store seeds a single bank-owned lender account so loans work out of the box.
 */
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const (
	memoryLenderIBAN          = "BG80BNBG96611020345678"
	memoryLenderAccountNumber = "0000000001"
)

type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	repo      store.Repository
	publisher rabbitmq.Publisher
	tickLock  app.TickLock
	closers   []func()
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))

	configPath, _ := cmd.Flags().GetString("config-path")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.openPublisher()
	rt.openTickLock(ctx)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	if rt.cfg.StoreDriver == config.StoreDriverMemory {
		repo := store.NewMemoryRepository()
		rt.cfg.LenderAccountID, rt.cfg.BankUserID = seedMemoryLender(repo, rt.cfg)
		rt.repo = repo
		rt.logger.Warn("using in-memory store; state is lost on exit",
			"component", "bootstrap",
			"lender_account_id", rt.cfg.LenderAccountID,
			"lender_balance", rt.cfg.MemoryLenderBalance.StringFixed(domain.MoneyPlaces),
		)
		return nil
	}

	poolConfig, err := pgxpool.ParseConfig(rt.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: parse database url: %w", domain.ErrConfig, err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("%w: connect database: %w", domain.ErrPersistence, err)
	}
	rt.closers = append(rt.closers, dbpool.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		return fmt.Errorf("%w: ping database: %w", domain.ErrPersistence, err)
	}
	rt.logger.Info("database connected", "component", "bootstrap")
	rt.repo = store.NewPostgresRepository(dbpool)
	return nil
}

func (rt *runtime) openPublisher() {
	if rt.cfg.RabbitMQURL == "" {
		rt.logger.Warn("rabbitmq url missing; ledger events disabled", "component", "bootstrap", "env", "RABBITMQ_URL")
		rt.publisher = &rabbitmq.EventProducerFallback{}
		return
	}
	producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL)
	if err != nil {
		rt.logger.Warn("rabbitmq producer unavailable; using fallback", "component", "bootstrap", "error", err)
		rt.publisher = &rabbitmq.EventProducerFallback{}
		return
	}
	rt.closers = append(rt.closers, producer.Close)
	rt.publisher = producer
	rt.logger.Info("rabbitmq producer connected", "component", "bootstrap")
}

func (rt *runtime) openTickLock(ctx context.Context) {
	if rt.cfg.RedisURL == "" {
		rt.logger.Info("redis url missing; accrual ticks are not coordinated across replicas", "component", "bootstrap")
		return
	}
	options, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		rt.logger.Warn("redis url parse failed; accrual tick lock disabled", "component", "bootstrap", "error", err)
		return
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rt.logger.Warn("redis ping failed; accrual tick lock disabled", "component", "bootstrap", "error", err)
		client.Close()
		return
	}
	rt.closers = append(rt.closers, func() { client.Close() })
	rt.tickLock = app.NewRedisTickLock(client, rt.cfg.RedisLockPrefix, lockOwner())
	rt.logger.Info("redis connected", "component", "bootstrap")
}

func (rt *runtime) newAccrual() *app.InterestAccrual {
	return app.NewInterestAccrual(rt.repo, rt.cfg.AccrualInterval, rt.publisher, rt.cfg.EventsExchange, rt.logger)
}

// seedMemoryLender creates the bank user's lender account and returns its id together
// with the bank user id, honouring any ids already configured.
func seedMemoryLender(repo *store.MemoryRepository, cfg config.Config) (uuid.UUID, uuid.UUID) {
	lenderID := cfg.LenderAccountID
	if lenderID == uuid.Nil {
		lenderID = uuid.New()
	}
	bankUserID := cfg.BankUserID
	if bankUserID == uuid.Nil {
		bankUserID = uuid.New()
	}
	repo.SeedAccount(domain.Account{
		ID:            lenderID,
		IBAN:          memoryLenderIBAN,
		AccountNumber: memoryLenderAccountNumber,
		Balance:       domain.RoundMoney(cfg.MemoryLenderBalance),
		UserID:        bankUserID,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	})
	return lenderID, bankUserID
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "ledgerd"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
