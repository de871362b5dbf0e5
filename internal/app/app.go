package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ogurasousui/codex-offboarding/internal/adapters/grpc/handler"
	"github.com/ogurasousui/codex-offboarding/internal/adapters/notify/redisstream"
	"github.com/ogurasousui/codex-offboarding/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
	"github.com/ogurasousui/codex-offboarding/internal/core/reminder"
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
	"github.com/ogurasousui/codex-offboarding/internal/platform/config"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
	"github.com/ogurasousui/codex-offboarding/internal/platform/metrics"
)

// Database は pgxpool.Pool 互換のクエリ実行とトランザクション開始を提供します。
type Database interface {
	pgdb.Queryer
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Deps は App の構築に必要な外部資源です。
type Deps struct {
	Config  *config.Config
	DB      Database
	Redis   redis.Cmdable
	Metrics *metrics.Offboarding
	Logger  *zap.Logger
}

// App は構築済みのユースケース群です。
type App struct {
	Separations *separation.Service
	Clearance   *clearance.Service
	Settlements *settlement.Service
	Reminders   *reminder.Scheduler
	Audit       *audit.Recorder
	Metrics     *metrics.Offboarding
}

// New はリポジトリとサービスを組み立てます。
func New(deps Deps) (*App, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("app: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	cfg := deps.Config

	var notifier notification.Notifier
	if deps.Redis != nil {
		publisher, err := redisstream.NewPublisher(deps.Redis, cfg.Redis.Stream, cfg.Redis.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("app: notification publisher: %w", err)
		}
		notifier = publisher
	}
	dispatcher := notification.NewDispatcher(notifier, logger.Named("notification"), m)

	tx := pgdb.NewTransactionManager(deps.DB)
	employees := postgres.NewEmployeeRepository(deps.DB)
	separations := postgres.NewSeparationRepository(deps.DB)
	checklists := postgres.NewChecklistRepository(deps.DB)
	recorder := audit.NewRecorder(postgres.NewAuditRepository(deps.DB), logger.Named("audit"))

	settlementSvc := settlement.NewService(settlement.Dependencies{
		Repo:         postgres.NewSettlementRepository(deps.DB),
		Leave:        postgres.NewLeaveRepository(deps.DB),
		Benefits:     postgres.NewBenefitsRepository(deps.DB),
		Directory:    employees,
		Notes:        separations,
		Notifier:     dispatcher,
		Audit:        recorder,
		Metrics:      m,
		DaysPerMonth: cfg.Offboarding.Settlement.DaysPerMonth,
		ClaimTimeout: cfg.Offboarding.Settlement.ClaimTimeout,
		Logger:       logger.Named("settlement"),
	})

	clearanceSvc := clearance.NewService(clearance.Dependencies{
		Repo:        checklists,
		Separations: separations,
		Directory:   employees,
		Equipment:   postgres.NewEquipmentHistoryRepository(deps.DB),
		Settlement:  settlementSvc,
		Notifier:    dispatcher,
		Audit:       recorder,
		Tx:          tx,
		Metrics:     m,
		Logger:      logger.Named("clearance"),
	})

	policy := separation.Policy{
		PercentThreshold:   cfg.Offboarding.Termination.PercentThreshold,
		FivePointThreshold: cfg.Offboarding.Termination.FivePointThreshold,
	}
	separationSvc := separation.NewService(separation.Dependencies{
		Repo:       separations,
		Appraisals: postgres.NewAppraisalRepository(deps.DB),
		Directory:  employees,
		Hook:       clearanceSvc,
		Notifier:   dispatcher,
		Audit:      recorder,
		Tx:         tx,
		Policy:     &policy,
		Logger:     logger.Named("separation"),
	})

	reminderPolicy := reminder.Policy{
		MaxCount:      cfg.Offboarding.Reminder.MaxCount,
		Interval:      cfg.Offboarding.Reminder.Interval,
		EscalateAfter: cfg.Offboarding.Reminder.EscalateAfter,
	}
	scheduler, err := reminder.NewScheduler(reminder.Dependencies{
		Store:     checklists,
		Directory: employees,
		Notifier:  dispatcher,
		Metrics:   m,
		Policy:    &reminderPolicy,
		Logger:    logger.Named("reminder"),
	})
	if err != nil {
		return nil, fmt.Errorf("app: reminder scheduler: %w", err)
	}

	return &App{
		Separations: separationSvc,
		Clearance:   clearanceSvc,
		Settlements: settlementSvc,
		Reminders:   scheduler,
		Audit:       recorder,
		Metrics:     m,
	}, nil
}

// Handler は gRPC ハンドラを返します。
func (a *App) Handler() *handler.OffboardingHandler {
	return handler.NewOffboardingHandler(handler.Services{
		Separations: a.Separations,
		Clearance:   a.Clearance,
		Settlements: a.Settlements,
		Reminders:   a.Reminders,
		Events:      a.Audit,
	})
}
