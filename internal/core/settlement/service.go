package settlement

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

const (
	defaultDaysPerMonth = 30
	defaultClaimTimeout = 5 * time.Minute
	placeholderNote     = "reserved for payroll integration"
)

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// Metrics は精算結果を計測します。
type Metrics interface {
	SettlementRecorded(status string)
}

type noopMetrics struct{}

func (noopMetrics) SettlementRecorded(string) {}

// Dependencies は Service の依存関係です。
type Dependencies struct {
	Repo         Repository
	Leave        LeaveService
	Benefits     BenefitsService
	Directory    employee.Directory
	Notes        SeparationNotes
	Notifier     *notification.Dispatcher
	Audit        *audit.Recorder
	Clock        Clock
	Metrics      Metrics
	DaysPerMonth int
	ClaimTimeout time.Duration
	Logger       *zap.Logger
}

// Service は最終精算の取りまとめを行います。
type Service struct {
	repo         Repository
	leave        LeaveService
	benefits     BenefitsService
	directory    employee.Directory
	notes        SeparationNotes
	notifier     *notification.Dispatcher
	audit        *audit.Recorder
	clock        Clock
	metrics      Metrics
	daysPerMonth int
	claimTimeout time.Duration
	logger       *zap.Logger
}

// NewService は Service を生成します。
func NewService(deps Dependencies) *Service {
	svc := &Service{
		repo:         deps.Repo,
		leave:        deps.Leave,
		benefits:     deps.Benefits,
		directory:    deps.Directory,
		notes:        deps.Notes,
		notifier:     deps.Notifier,
		audit:        deps.Audit,
		clock:        deps.Clock,
		metrics:      deps.Metrics,
		daysPerMonth: deps.DaysPerMonth,
		claimTimeout: deps.ClaimTimeout,
		logger:       deps.Logger,
	}
	if svc.clock == nil {
		svc.clock = realClock{}
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.daysPerMonth <= 0 {
		svc.daysPerMonth = defaultDaysPerMonth
	}
	if svc.claimTimeout <= 0 {
		svc.claimTimeout = defaultClaimTimeout
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// TriggerSettlement は最終精算を起動します。同一 terminationID への 2 回目以降の起動は既存の結果を返します。
// 保存前に中断した claim は ClaimTimeout を過ぎると引き継いで再計算します。
func (s *Service) TriggerSettlement(ctx context.Context, employeeID, terminationID string) (*Outcome, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, ErrInvalidEmployeeID
	}
	terminationID = strings.TrimSpace(terminationID)
	if terminationID == "" {
		return nil, ErrInvalidTerminationID
	}

	rec := &Record{
		TerminationID: terminationID,
		EmployeeID:    employeeID,
		Status:        StatusInitiated,
		InitiatedAt:   s.clock.Now(),
	}
	claimed, err := s.repo.Claim(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("settlement: claim %s: %w", terminationID, err)
	}
	if claimed {
		s.audit.Record(ctx, terminationID, audit.KindSettlementClaimed, "", map[string]any{"employee_id": employeeID})
		return s.run(ctx, rec, false)
	}

	existing, err := s.repo.FindByTermination(ctx, terminationID)
	if err != nil {
		return nil, err
	}
	if existing.EmployeeID != employeeID {
		return nil, ErrEmployeeMismatch
	}
	if existing.Finished() {
		s.logger.Info("settlement already triggered",
			zap.String("termination_id", terminationID),
			zap.String("status", string(existing.Status)),
		)
		return &Outcome{Record: existing, AlreadyTriggered: true}, nil
	}

	now := s.clock.Now()
	if now.Sub(existing.InitiatedAt) < s.claimTimeout {
		s.logger.Info("settlement in progress",
			zap.String("termination_id", terminationID),
			zap.Time("initiated_at", existing.InitiatedAt),
		)
		return &Outcome{Record: existing, AlreadyTriggered: true}, nil
	}
	reclaimed, err := s.repo.Reclaim(ctx, terminationID, existing.InitiatedAt, now)
	if err != nil {
		return nil, fmt.Errorf("settlement: reclaim %s: %w", terminationID, err)
	}
	if !reclaimed {
		return &Outcome{Record: existing, AlreadyTriggered: true}, nil
	}

	s.logger.Warn("resuming stale settlement claim",
		zap.String("termination_id", terminationID),
		zap.Time("initiated_at", existing.InitiatedAt),
	)
	s.audit.Record(ctx, terminationID, audit.KindSettlementClaimed, "", map[string]any{
		"employee_id": employeeID,
		"resumed":     true,
	})
	existing.InitiatedAt = now
	existing.Errors = nil
	return s.run(ctx, existing, true)
}

func (s *Service) run(ctx context.Context, rec *Record, resumed bool) (*Outcome, error) {
	rec.Components.LeaveEncashment = s.computeLeaveEncashment(ctx, rec)
	rec.Components.BenefitsTermination = s.terminateBenefits(ctx, rec)
	rec.Components.FinalPay = Placeholder{Status: ComponentPending, Note: placeholderNote}
	rec.Components.Deductions = Placeholder{Status: ComponentPending, Note: placeholderNote}
	rec.Components.Severance = Placeholder{Status: ComponentPending, Note: placeholderNote}

	rec.Status = StatusQueued
	if len(rec.Errors) > 0 {
		rec.Status = StatusPartial
	}
	completed := s.clock.Now()
	rec.CompletedAt = &completed

	saved, err := s.repo.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("settlement: save %s: %w", rec.TerminationID, err)
	}
	s.metrics.SettlementRecorded(string(saved.Status))

	s.appendNote(ctx, saved)
	s.audit.Record(ctx, saved.TerminationID, audit.KindSettlementRecorded, "", map[string]any{
		"status":            string(saved.Status),
		"leave_encashment":  saved.Components.LeaveEncashment.Amount,
		"benefits_records":  len(saved.Components.BenefitsTermination.Records),
		"failed_step_count": len(saved.Errors),
	})
	s.notifySummary(ctx, saved)

	return &Outcome{Record: saved, Resumed: resumed}, nil
}

// GetSettlement は精算レコードを取得します。本人、人事マネージャー、経理担当者のみ参照できます。
func (s *Service) GetSettlement(ctx context.Context, terminationID string, who actor.Actor) (*Record, error) {
	terminationID = strings.TrimSpace(terminationID)
	if terminationID == "" {
		return nil, ErrInvalidTerminationID
	}
	rec, err := s.repo.FindByTermination(ctx, terminationID)
	if err != nil {
		return nil, err
	}
	if rec.EmployeeID != who.ID && !who.Can(actor.CapHRManager) && !who.Can(actor.CapFinance) {
		return nil, fmt.Errorf("%w: not allowed to view settlement %s", ErrForbidden, terminationID)
	}
	return rec, nil
}

func (s *Service) computeLeaveEncashment(ctx context.Context, rec *Record) LeaveEncashment {
	emp, err := s.directory.FindByID(ctx, rec.EmployeeID)
	if err != nil {
		s.fail(rec, StepEmployeeLookup, err)
		return LeaveEncashment{Status: ComponentError, Note: "employee record unavailable"}
	}

	balances, err := s.leave.Balances(ctx, rec.EmployeeID)
	if err != nil {
		s.fail(rec, StepLeaveEncashment, err)
		return LeaveEncashment{Status: ComponentError, Note: "leave balances unavailable"}
	}

	dailyRate := round2(emp.GrossSalary / float64(s.daysPerMonth))
	if len(balances) == 0 {
		return LeaveEncashment{Status: ComponentComputed, DailyRate: dailyRate, Note: "no leave balances on record"}
	}

	var unused float64
	for _, b := range balances {
		if b.UnusedDays > 0 {
			unused += b.UnusedDays
		}
	}
	return LeaveEncashment{
		Status:     ComponentComputed,
		UnusedDays: unused,
		DailyRate:  dailyRate,
		Amount:     round2(unused * emp.GrossSalary / float64(s.daysPerMonth)),
		Balances:   balances,
	}
}

func (s *Service) terminateBenefits(ctx context.Context, rec *Record) BenefitsTermination {
	existing, err := s.benefits.FindTerminationBenefits(ctx, rec.EmployeeID, rec.TerminationID)
	if err != nil {
		s.fail(rec, StepBenefitsTermination, err)
		return BenefitsTermination{Status: ComponentError, Note: "benefit lookup failed"}
	}
	if len(existing) > 0 {
		return BenefitsTermination{Status: ComponentReused, Records: existing, Note: "termination benefits already materialized"}
	}

	created, err := s.benefits.CreateTerminationBenefits(ctx, rec.EmployeeID, rec.TerminationID, s.clock.Now())
	if err != nil {
		s.fail(rec, StepBenefitsTermination, err)
		return BenefitsTermination{Status: ComponentError, Note: "benefit materialization failed"}
	}
	return BenefitsTermination{Status: ComponentComputed, Records: created}
}

func (s *Service) fail(rec *Record, step Step, err error) {
	s.logger.Warn("settlement step failed",
		zap.String("termination_id", rec.TerminationID),
		zap.String("step", string(step)),
		zap.Error(err),
	)
	rec.Errors = append(rec.Errors, StepError{Step: step, Error: err.Error()})
}

func (s *Service) appendNote(ctx context.Context, rec *Record) {
	if s.notes == nil {
		return
	}
	note := fmt.Sprintf("[%s] final settlement %s: leave encashment %.2f",
		rec.CompletedAt.Format(time.RFC3339), rec.Status, rec.Components.LeaveEncashment.Amount)
	if err := s.notes.AppendHRComment(ctx, rec.TerminationID, note); err != nil {
		s.logger.Warn("settlement note append failed", zap.String("termination_id", rec.TerminationID), zap.Error(err))
	}
}

func (s *Service) notifySummary(ctx context.Context, rec *Record) {
	steps := make([]string, 0, len(rec.Errors))
	for _, e := range rec.Errors {
		steps = append(steps, string(e.Step))
	}
	content := map[string]any{
		"separation_id":    rec.TerminationID,
		"employee_id":      rec.EmployeeID,
		"status":           string(rec.Status),
		"leave_encashment": rec.Components.LeaveEncashment.Amount,
		"failed_steps":     steps,
	}

	var staff []string
	for _, c := range []actor.Capability{actor.CapHRManager, actor.CapFinance} {
		ids, err := s.directory.ListByCapability(ctx, c)
		if err != nil {
			s.logger.Warn("capability holder lookup failed", zap.Stringer("capability", c), zap.Error(err))
			continue
		}
		staff = append(staff, ids...)
	}

	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindSettlementSummary,
		Recipients: []string{rec.EmployeeID},
		Subject:    "Your final settlement",
		Content:    content,
	})
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindSettlementSummary,
		Recipients: notification.Unique(staff, rec.EmployeeID),
		Subject:    "Final settlement " + strings.ToLower(string(rec.Status)),
		Content:    content,
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
