package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledger/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
)

const usage = `usage: ledger <command> [flags]

commands:
  serve                               run the HTTP API
  migrate [up|down]                   apply or roll back one schema migration
  seed-accounts -tenant N [-chart f]  create the POS chart of accounts
  jobs trigger <name> [-tenant N]     enqueue gl-integrity or balance-warmup
  jobs post-event -tenant N -kind K   enqueue a JSON event read from stdin or -file
  jobs stats                          print queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	switch os.Args[1] {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		direction := "up"
		if len(os.Args) > 2 {
			direction = os.Args[2]
		}
		err = db.Migrate(cfg.PGDSN, migrations.FS, direction, logger)
	case "seed-accounts":
		err = seedAccounts(ctx, cfg, logger, os.Args[2:])
	case "jobs":
		err = runJobs(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(os.Args[1], slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, migrations.FS, "up", logger); err != nil {
			return err
		}
	}
	pool, err := db.New(ctx, cfg.PGDSN, "odyssey-ledger-api")
	if err != nil {
		return err
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(ctx, cfg, pool, metrics.Registerer(), logger)
	if err != nil {
		return err
	}
	defer services.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: services.LedgerHandler(logger),
		CloseHandler:  services.CloseHandler(logger),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Database:      pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seedAccounts(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("seed-accounts", flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "tenant id")
	chartPath := fs.String("chart", "", "YAML chart overriding the default accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var chart io.Reader
	if *chartPath != "" {
		f, err := os.Open(*chartPath)
		if err != nil {
			return err
		}
		defer f.Close()
		chart = f
	}

	pool, err := db.New(ctx, cfg.PGDSN, "odyssey-ledger-cli")
	if err != nil {
		return err
	}
	defer pool.Close()
	seedCfg := *cfg
	seedCfg.BalanceCacheBackend = "none"
	services, err := app.BuildServices(ctx, &seedCfg, pool, nil, logger)
	if err != nil {
		return err
	}
	defer services.Close()
	return cli.NewSeedCLI(services.Accounts, os.Stdout).Seed(ctx, *tenant, chart)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: subcommand required (trigger, post-event, stats)")
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := jobs.NewClient(redisOpts)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	jobsCLI := cli.NewJobsCLI(client, inspector)

	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "tenant id, 0 for every tenant")
	since := fs.String("since", "", "integrity scan start date (YYYY-MM-DD)")
	kind := fs.String("kind", "", "event kind for post-event")
	file := fs.String("file", "", "event JSON file, stdin when empty")

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: job name required")
		}
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *tenant, *since)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "post-event":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var body io.Reader = os.Stdin
		if *file != "" {
			f, err := os.Open(*file)
			if err != nil {
				return err
			}
			defer f.Close()
			body = f
		}
		info, err := jobsCLI.PostEvent(ctx, *tenant, *kind, body)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-10s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}
