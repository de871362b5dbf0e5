package separation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// TransactionManager はトランザクション制御の抽象化です。
type TransactionManager interface {
	WithinReadOnly(ctx context.Context, fn func(context.Context) error) error
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
	WithinSavepoint(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (noopTransactionManager) WithinSavepoint(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Policy は解雇起票時の評価点しきい値です。
type Policy struct {
	PercentThreshold   float64
	FivePointThreshold float64
}

// DefaultPolicy は 100 点満点で 50、5 段階で 2.5 のしきい値です。
func DefaultPolicy() Policy {
	return Policy{PercentThreshold: 50, FivePointThreshold: 2.5}
}

// ThresholdFor は評価点のスケールに応じたしきい値を返します。5 を超える評価点は 100 点満点とみなします。
func (p Policy) ThresholdFor(score float64) float64 {
	if score > 5 {
		return p.PercentThreshold
	}
	return p.FivePointThreshold
}

// Eligible は評価点がしきい値未満かどうかを返します。
func (p Policy) Eligible(score float64) bool {
	return score < p.ThresholdFor(score)
}

// Dependencies は Service の依存関係です。
type Dependencies struct {
	Repo       Repository
	Appraisals AppraisalReader
	Directory  employee.Directory
	Hook       ApprovalHook
	Notifier   *notification.Dispatcher
	Audit      *audit.Recorder
	Clock      Clock
	Tx         TransactionManager
	Policy     *Policy
	Logger     *zap.Logger
}

// Service は退職申請のライフサイクルを管理します。
type Service struct {
	repo       Repository
	appraisals AppraisalReader
	directory  employee.Directory
	hook       ApprovalHook
	notifier   *notification.Dispatcher
	audit      *audit.Recorder
	clock      Clock
	tx         TransactionManager
	policy     Policy
	logger     *zap.Logger
}

// UseCase は退職申請ユースケースの公開インターフェースです。
type UseCase interface {
	CreateResignation(ctx context.Context, in CreateResignationInput) (*Request, error)
	CreatePerformanceTermination(ctx context.Context, in CreateTerminationInput) (*Request, error)
	UpdateStatus(ctx context.Context, in UpdateStatusInput) (*Request, error)
	GetSeparation(ctx context.Context, in GetSeparationInput) (*Request, error)
}

// NewService は Service を生成します。
func NewService(deps Dependencies) *Service {
	svc := &Service{
		repo:       deps.Repo,
		appraisals: deps.Appraisals,
		directory:  deps.Directory,
		hook:       deps.Hook,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		clock:      deps.Clock,
		tx:         deps.Tx,
		policy:     DefaultPolicy(),
		logger:     deps.Logger,
	}
	if deps.Policy != nil {
		svc.policy = *deps.Policy
	}
	if svc.clock == nil {
		svc.clock = realClock{}
	}
	if svc.tx == nil {
		svc.tx = noopTransactionManager{}
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// CreateResignationInput は退職届提出時の入力です。
type CreateResignationInput struct {
	EmployeeID       string
	Reason           string
	Comments         string
	RequestedLastDay *time.Time
	Actor            actor.Actor
}

// CreateTerminationInput は評価に基づく解雇起票時の入力です。
type CreateTerminationInput struct {
	EmployeeID      string
	Reason          string
	TerminationDate *time.Time
	Actor           actor.Actor
}

// UpdateStatusInput は状態更新時の入力です。
type UpdateStatusInput struct {
	ID              string
	Status          Status
	HRComments      *string
	TerminationDate *time.Time
	Actor           actor.Actor
}

// GetSeparationInput は申請取得時の入力です。
type GetSeparationInput struct {
	ID    string
	Actor actor.Actor
}

// CreateResignation は社員本人の退職届を受け付けます。
func (s *Service) CreateResignation(ctx context.Context, in CreateResignationInput) (*Request, error) {
	employeeID, err := normalizeEmployeeID(in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if in.Actor.ID != employeeID {
		return nil, fmt.Errorf("%w: resignation must be submitted by the employee", ErrForbidden)
	}
	reason, err := normalizeReason(in.Reason)
	if err != nil {
		return nil, err
	}

	var created *Request
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		if _, err := s.directory.FindByID(txCtx, employeeID); err != nil {
			return err
		}
		if err := s.ensureNoActiveRequest(txCtx, employeeID); err != nil {
			return err
		}

		now := s.clock.Now()
		result, err := s.repo.Create(txCtx, &Request{
			EmployeeID:       employeeID,
			Initiator:        InitiatorEmployee,
			Reason:           reason,
			EmployeeComments: strings.TrimSpace(in.Comments),
			TerminationDate:  normalizeDate(in.RequestedLastDay),
			Status:           StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		created = result
		return nil
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, created.ID, audit.KindSeparationCreated, in.Actor.ID, map[string]any{
		"initiator": string(created.Initiator),
	})
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindResignationSubmitted,
		Recipients: s.holders(ctx, actor.CapHRManager),
		Subject:    "Resignation submitted",
		Content: map[string]any{
			"separation_id": created.ID,
			"employee_id":   employeeID,
			"reason":        reason,
		},
	})

	return created, nil
}

// CreatePerformanceTermination は評価に基づく解雇申請を起票します。
func (s *Service) CreatePerformanceTermination(ctx context.Context, in CreateTerminationInput) (*Request, error) {
	if !in.Actor.Can(actor.CapHRManager) {
		return nil, fmt.Errorf("%w: %s capability required", ErrForbidden, actor.CapHRManager)
	}
	employeeID, err := normalizeEmployeeID(in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if in.Actor.ID == employeeID {
		return nil, ErrSelfTermination
	}
	reason, err := normalizeReason(in.Reason)
	if err != nil {
		return nil, err
	}

	var created *Request
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		if _, err := s.directory.FindByID(txCtx, employeeID); err != nil {
			return err
		}
		if err := s.ensureEligible(txCtx, employeeID); err != nil {
			return err
		}
		if err := s.ensureNoActiveRequest(txCtx, employeeID); err != nil {
			return err
		}

		now := s.clock.Now()
		result, err := s.repo.Create(txCtx, &Request{
			EmployeeID:      employeeID,
			Initiator:       InitiatorHR,
			Reason:          reason,
			TerminationDate: normalizeDate(in.TerminationDate),
			Status:          StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
		created = result
		return nil
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, created.ID, audit.KindSeparationCreated, in.Actor.ID, map[string]any{
		"initiator": string(created.Initiator),
	})
	content := map[string]any{
		"separation_id": created.ID,
		"employee_id":   employeeID,
		"reason":        reason,
	}
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindTerminationInitiated,
		Recipients: notification.Unique(s.holders(ctx, actor.CapHRManager), in.Actor.ID),
		Subject:    "Performance termination initiated",
		Content:    content,
	})
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindTerminationInitiated,
		Recipients: []string{employeeID},
		Subject:    "Separation notice",
		Content:    content,
	})

	return created, nil
}

// UpdateStatus は人事マネージャーの判断で申請の状態を更新します。
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*Request, error) {
	if !in.Actor.Can(actor.CapHRManager) {
		return nil, fmt.Errorf("%w: %s capability required", ErrForbidden, actor.CapHRManager)
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("id: %w", ErrInvalidID)
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var (
		updated   *Request
		approved  bool
		unchanged bool
		flipped   bool
		flippedTo employee.Status
	)
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.FindByID(txCtx, in.ID)
		if err != nil {
			return err
		}

		if existing.Status == StatusApproved {
			if in.Status == StatusApproved {
				updated = existing
				unchanged = true
				return nil
			}
			return ErrTerminalStatus
		}

		if in.Status.Active() && !existing.Status.Active() {
			if err := s.ensureNoActiveRequest(txCtx, existing.EmployeeID); err != nil {
				return err
			}
		}

		from := existing.Status
		next := *existing
		next.Status = in.Status
		if in.HRComments != nil {
			next.HRComments = strings.TrimSpace(*in.HRComments)
		}
		if in.TerminationDate != nil {
			next.TerminationDate = normalizeDate(in.TerminationDate)
		}
		if in.Status == StatusApproved && next.TerminationDate == nil {
			return ErrTerminationDateRequired
		}
		next.UpdatedAt = s.clock.Now()

		result, err := s.repo.UpdateStatus(txCtx, &next, from)
		if err != nil {
			return err
		}
		updated = result

		if in.Status != StatusApproved {
			return nil
		}
		approved = true
		flippedTo, flipped = s.flipEmployeeStatus(txCtx, result)
		if s.hook != nil {
			if err := s.hook.OnSeparationApproved(txCtx, result); err != nil {
				return fmt.Errorf("separation: create clearance checklist: %w", err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if unchanged {
		return updated, nil
	}

	s.audit.Record(ctx, updated.ID, audit.KindStatusChanged, in.Actor.ID, map[string]any{
		"status": string(updated.Status),
	})
	if flipped {
		s.audit.Record(ctx, updated.ID, audit.KindEmployeeStatus, "", map[string]any{
			"employee_id": updated.EmployeeID,
			"status":      string(flippedTo),
		})
	}

	content := map[string]any{
		"separation_id": updated.ID,
		"status":        string(updated.Status),
	}
	if updated.TerminationDate != nil {
		content["termination_date"] = updated.TerminationDate.Format(time.DateOnly)
	}
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindSeparationStatus,
		Recipients: []string{updated.EmployeeID},
		Subject:    "Separation request " + strings.ToLower(string(updated.Status)),
		Content:    content,
	})
	if approved {
		s.notifier.Send(ctx, notification.Notification{
			Kind:       notification.KindAccessFollowUp,
			Recipients: s.holders(ctx, actor.CapSystemAdmin),
			Subject:    "Access revocation required",
			Content: map[string]any{
				"separation_id": updated.ID,
				"employee_id":   updated.EmployeeID,
			},
		})
	}

	return updated, nil
}

// GetSeparation は申請を取得します。本人および人事担当者のみ参照できます。
func (s *Service) GetSeparation(ctx context.Context, in GetSeparationInput) (*Request, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("id: %w", ErrInvalidID)
	}

	var found *Request
	if err := s.tx.WithinReadOnly(ctx, func(txCtx context.Context) error {
		result, err := s.repo.FindByID(txCtx, in.ID)
		if err != nil {
			return err
		}
		found = result
		return nil
	}); err != nil {
		return nil, err
	}

	if found.EmployeeID != in.Actor.ID && !in.Actor.Can(actor.CapHRManager) && !in.Actor.Can(actor.CapHROperations) {
		return nil, fmt.Errorf("%w: not allowed to view separation %s", ErrForbidden, in.ID)
	}
	return found, nil
}

// flipEmployeeStatus は社員の在籍状態を切り替え、切り替えた場合は新しい状態を返します。
// 失敗はセーブポイント内に閉じ込め、承認処理は継続します。
func (s *Service) flipEmployeeStatus(ctx context.Context, req *Request) (employee.Status, bool) {
	next := employee.StatusTerminated
	if req.Resignation() {
		next = employee.StatusRetired
	}

	var changed bool
	if err := s.tx.WithinSavepoint(ctx, func(spCtx context.Context) error {
		ok, err := s.directory.TransitionStatus(spCtx, req.EmployeeID, employee.StatusActive, next, s.clock.Now())
		if err != nil {
			return err
		}
		changed = ok
		return nil
	}); err != nil {
		s.logger.Warn("employee status transition failed",
			zap.String("separation_id", req.ID),
			zap.String("employee_id", req.EmployeeID),
			zap.Error(err),
		)
		return "", false
	}
	if !changed {
		s.logger.Info("employee status not active, leaving unchanged",
			zap.String("separation_id", req.ID),
			zap.String("employee_id", req.EmployeeID),
		)
		return "", false
	}
	return next, true
}

func (s *Service) ensureEligible(ctx context.Context, employeeID string) error {
	if s.appraisals == nil {
		return fmt.Errorf("%w: no appraisal source configured", ErrTerminationIneligible)
	}
	appraisal, err := s.appraisals.Latest(ctx, employeeID)
	if errors.Is(err, ErrAppraisalNotFound) {
		return fmt.Errorf("%w: no appraisal on record", ErrTerminationIneligible)
	}
	if err != nil {
		return err
	}
	if !s.policy.Eligible(appraisal.Score) {
		return fmt.Errorf("%w: score %.2f is not below %.2f", ErrTerminationIneligible, appraisal.Score, s.policy.ThresholdFor(appraisal.Score))
	}
	return nil
}

func (s *Service) ensureNoActiveRequest(ctx context.Context, employeeID string) error {
	active, err := s.repo.FindActiveByEmployee(ctx, employeeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if active != nil {
		return ErrActiveRequestExists
	}
	return nil
}

func (s *Service) holders(ctx context.Context, c actor.Capability) []string {
	ids, err := s.directory.ListByCapability(ctx, c)
	if err != nil {
		s.logger.Warn("capability holder lookup failed", zap.Stringer("capability", c), zap.Error(err))
		return nil
	}
	return ids
}

func normalizeEmployeeID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidEmployeeID
	}
	return trimmed, nil
}

func normalizeReason(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidReason
	}
	return trimmed, nil
}

func normalizeDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	normalized := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &normalized
}
