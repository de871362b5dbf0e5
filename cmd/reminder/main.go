package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ogurasousui/codex-offboarding/internal/adapters/notify/redisstream"
	"github.com/ogurasousui/codex-offboarding/internal/app"
	"github.com/ogurasousui/codex-offboarding/internal/platform/config"
	pg "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
	"github.com/ogurasousui/codex-offboarding/internal/platform/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (defaults to CONFIG_PATH env or assets/local.yaml)")
		force      = flag.Bool("force", false, "ignore the reminder cap and interval")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(effectiveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(ctx, cfg, log, *force); err != nil {
		log.Fatal("reminder pass failed", zap.Error(err))
	}
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "assets/local.yaml"
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, force bool) error {
	dbPool, err := pg.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database pool: %w", err)
	}
	defer dbPool.Close()

	rdb, err := redisstream.Connect(ctx, redisstream.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	a, err := app.New(app.Deps{Config: cfg, DB: dbPool, Redis: rdb, Logger: log})
	if err != nil {
		return err
	}

	result, err := a.Reminders.RunPass(ctx, force)
	if err != nil {
		return err
	}

	log.Info("reminder pass completed",
		zap.Bool("force", force),
		zap.Int("checklists", result.Checklists),
		zap.Int("reminders", result.Reminders),
		zap.Int("escalations", result.Escalations),
		zap.Int("skipped", result.Skipped),
		zap.Int("failures", result.Failures),
	)
	return nil
}
