package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	closehttp "github.com/odyssey-erp/odyssey-ledger/internal/close/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/ledger/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/recon"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Services is the wired ledger core shared by the API server, the worker
// and the CLI.
type Services struct {
	Postings   *ledger.Service
	Accounts   *ledger.AccountService
	Balances   *ledger.BalanceService
	Hooks      *integration.Hooks
	Dispatcher *integration.Dispatcher
	Locks      *close.LockService
	Periods    *close.Service
	Recons     *recon.Service
	Validator  *recon.Validator
	Formatter  *money.Formatter

	redis *redis.Client
}

// BuildServices wires repositories and services over pool. Balance cache
// collectors are registered on reg when it is non-nil.
func BuildServices(ctx context.Context, cfg *Config, pool *pgxpool.Pool, reg prometheus.Registerer, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	formatter, err := money.NewFormatter(cfg.CurrencyExponent, cfg.CurrencyCode, cfg.DisplayLocale)
	if err != nil {
		return nil, fmt.Errorf("app: money formatter: %w", err)
	}

	audit := shared.NewAuditLogger(pool)
	ledgerRepo := ledger.NewRepository(pool)
	svc := &Services{Formatter: formatter}
	svc.Postings = ledger.NewService(ledgerRepo, audit, logger)
	svc.Accounts = ledger.NewAccountService(ledgerRepo, logger)

	balanceCache, client := buildBalanceCache(ctx, cfg, logger)
	svc.redis = client
	svc.Balances = ledger.NewBalanceService(ledgerRepo, balanceCache, logger)
	if reg != nil {
		metrics, err := ledger.NewCacheMetrics(reg)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("app: cache metrics: %w", err)
		}
		svc.Balances.WithMetrics(metrics)
	}

	svc.Hooks = integration.NewHooks(svc.Postings, svc.Accounts, svc.Balances, logger)
	svc.Dispatcher = integration.NewDispatcher(svc.Hooks)

	reconRepo := recon.NewRepository(pool)
	svc.Validator = recon.NewValidator(reconRepo, reconRepo, svc.Accounts)
	svc.Recons = recon.NewService(reconRepo, svc.Balances, audit, logger)

	closeRepo := close.NewRepository(pool)
	svc.Locks = close.NewLockService(closeRepo, audit, logger)
	svc.Periods = close.NewService(closeRepo, svc.Validator, audit, logger)
	return svc, nil
}

// LedgerHandler builds the ledger HTTP handler.
func (s *Services) LedgerHandler(logger *slog.Logger) *ledgerhttp.Handler {
	return ledgerhttp.NewHandler(logger, s.Postings, s.Accounts, s.Balances, s.Dispatcher, s.Formatter)
}

// CloseHandler builds the lock, period and reconciliation HTTP handler.
func (s *Services) CloseHandler(logger *slog.Logger) *closehttp.Handler {
	return closehttp.NewHandler(logger, s.Locks, s.Periods, s.Recons, s.Validator)
}

// Close releases the Redis connection when one was opened.
func (s *Services) Close() {
	if s != nil && s.redis != nil {
		_ = s.redis.Close()
	}
}

// buildBalanceCache returns nil for BALANCE_CACHE_BACKEND=none. An unreachable
// Redis degrades to the in-process cache.
func buildBalanceCache(ctx context.Context, cfg *Config, logger *slog.Logger) (ledger.BalanceCache, *redis.Client) {
	switch cfg.BalanceCacheBackend {
	case "none":
		return nil, nil
	case "memory":
		return ledger.NewMemoryBalanceCache(cfg.BalanceCacheTTL), nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-process balance cache", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
		return ledger.NewMemoryBalanceCache(cfg.BalanceCacheTTL), nil
	}
	return ledger.NewRedisBalanceCache(client, cfg.BalanceCacheTTL), client
}
