package clearance

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
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
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

// Metrics は項目更新を計測します。
type Metrics interface {
	ClearanceUpdated(department, status string)
}

type noopMetrics struct{}

func (noopMetrics) ClearanceUpdated(string, string) {}

// Dependencies は Service の依存関係です。
type Dependencies struct {
	Repo        Repository
	Separations SeparationStore
	Directory   employee.Directory
	Equipment   EquipmentHistory
	Settlement  SettlementTrigger
	Notifier    *notification.Dispatcher
	Audit       *audit.Recorder
	Clock       Clock
	Tx          TransactionManager
	Metrics     Metrics
	Logger      *zap.Logger
}

// Service は部門別クリアランスの進行を管理します。
type Service struct {
	repo        Repository
	separations SeparationStore
	directory   employee.Directory
	equipment   EquipmentHistory
	settlement  SettlementTrigger
	notifier    *notification.Dispatcher
	audit       *audit.Recorder
	clock       Clock
	tx          TransactionManager
	metrics     Metrics
	logger      *zap.Logger
}

// UseCase はクリアランスユースケースの公開インターフェースです。
type UseCase interface {
	UpdateItemStatus(ctx context.Context, in UpdateItemInput) (*UpdateItemResult, error)
	GetChecklist(ctx context.Context, in GetChecklistInput) (*Checklist, error)
}

// NewService は Service を生成します。
func NewService(deps Dependencies) *Service {
	svc := &Service{
		repo:        deps.Repo,
		separations: deps.Separations,
		directory:   deps.Directory,
		equipment:   deps.Equipment,
		settlement:  deps.Settlement,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		clock:       deps.Clock,
		tx:          deps.Tx,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	if svc.clock == nil {
		svc.clock = realClock{}
	}
	if svc.tx == nil {
		svc.tx = noopTransactionManager{}
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// UpdateItemInput は項目更新時の入力です。
type UpdateItemInput struct {
	ChecklistID      string
	Department       Department
	Status           ItemStatus
	Comments         string
	EquipmentReturns []EquipmentReturn
	Actor            actor.Actor
}

// UpdateItemResult は項目更新の結果です。
type UpdateItemResult struct {
	Checklist  *Checklist
	Item       *Item
	Completed  bool
	Settlement *settlement.Outcome
	// Unchanged は承認済みの項目が再承認され、何も更新されなかったことを示します。
	Unchanged  bool
}

// GetChecklistInput はチェックリスト取得時の入力です。ChecklistID か TerminationID を指定します。
type GetChecklistInput struct {
	ChecklistID   string
	TerminationID string
	Actor         actor.Actor
}

var _ separation.ApprovalHook = (*Service)(nil)

// OnSeparationApproved は退職申請の承認時にチェックリストを用意します。
func (s *Service) OnSeparationApproved(ctx context.Context, req *separation.Request) error {
	_, err := s.CreateChecklist(ctx, req.ID)
	return err
}

// CreateChecklist は承認済みの退職申請にチェックリストを作成します。既に存在する場合は既存のものを返します。
func (s *Service) CreateChecklist(ctx context.Context, terminationID string) (*Checklist, error) {
	terminationID = strings.TrimSpace(terminationID)
	if terminationID == "" {
		return nil, separation.ErrInvalidID
	}

	var (
		result  *Checklist
		created bool
	)
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		req, err := s.separations.FindByID(txCtx, terminationID)
		if err != nil {
			return err
		}
		if req.Status != separation.StatusApproved {
			return ErrSeparationNotApproved
		}

		existing, err := s.repo.FindByTermination(txCtx, terminationID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		manager := s.resolveManager(txCtx, req)
		equipment := s.seedEquipment(txCtx, req)

		items := make([]Item, 0, len(Departments))
		for _, d := range Departments {
			item := Item{Department: d, Status: ItemPending}
			if d == DepartmentLineManager && manager.Resolved() {
				item.AssignedTo = manager.ManagerID
			}
			items = append(items, item)
		}

		checklist, isNew, err := s.repo.Create(txCtx, &Checklist{
			TerminationID:  terminationID,
			EmployeeID:     req.EmployeeID,
			Items:          items,
			Equipment:      equipment,
			Reminders:      map[Department]ReminderState{},
			ManagerOutcome: manager.Outcome,
			CreatedAt:      s.clock.Now(),
		})
		if err != nil {
			return err
		}
		result = checklist
		created = isNew
		return nil
	}); err != nil {
		return nil, err
	}

	if created {
		s.audit.Record(ctx, terminationID, audit.KindChecklistCreated, "", map[string]any{
			"checklist_id":    result.ID,
			"manager_outcome": string(result.ManagerOutcome),
			"equipment_count": len(result.Equipment),
		})
	}
	return result, nil
}

// UpdateItemStatus は部門の項目を更新し、全項目の承認で精算を起動します。
func (s *Service) UpdateItemStatus(ctx context.Context, in UpdateItemInput) (*UpdateItemResult, error) {
	checklistID := strings.TrimSpace(in.ChecklistID)
	if checklistID == "" {
		return nil, ErrInvalidID
	}
	if !in.Department.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrDepartmentNotFound, in.Department)
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var (
		checklist *Checklist
		updated   *Item
		unchanged bool
	)
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		current, err := s.repo.FindByID(txCtx, checklistID)
		if err != nil {
			return err
		}
		checklist = current
		if current.CardReturned {
			return ErrChecklistCompleted
		}
		item, ok := current.Item(in.Department)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDepartmentNotFound, in.Department)
		}
		if err := authorize(in.Actor, item, in.Status); err != nil {
			return err
		}
		if item.Status == ItemApproved && in.Status == ItemApproved {
			same := *item
			updated = &same
			unchanged = true
			return nil
		}
		if err := checkOrder(current, in.Department); err != nil {
			return err
		}

		now := s.clock.Now()
		next := *item
		next.Status = in.Status
		next.Comments = strings.TrimSpace(in.Comments)
		next.UpdatedBy = in.Actor.ID
		next.UpdatedAt = &now

		result, err := s.repo.UpdateItem(txCtx, checklistID, next, item.Version)
		if err != nil {
			return err
		}
		updated = result
		return nil
	}); err != nil {
		if errors.Is(err, ErrChecklistCompleted) {
			s.retrySettlement(ctx, checklist)
		}
		return nil, err
	}

	if unchanged {
		result := &UpdateItemResult{Checklist: checklist, Item: updated, Unchanged: true}
		if checklist.AllApproved() {
			outcome, completed := s.complete(ctx, checklist)
			result.Completed = completed
			result.Settlement = outcome
			if completed {
				result.Checklist.CardReturned = true
			}
		}
		return result, nil
	}

	s.metrics.ClearanceUpdated(string(updated.Department), string(updated.Status))
	s.audit.Record(ctx, checklist.TerminationID, audit.KindItemUpdated, in.Actor.ID, map[string]any{
		"checklist_id": checklistID,
		"department":   string(updated.Department),
		"status":       string(updated.Status),
	})

	if updated.Status == ItemApproved {
		switch updated.Department {
		case DepartmentIT:
			s.revokeAccess(ctx, checklist, in.Actor)
		case DepartmentHREmployee:
			if len(in.EquipmentReturns) > 0 {
				s.recordEquipmentReturns(ctx, checklist, in.EquipmentReturns, in.Actor)
			}
		}
	}

	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindClearanceUpdated,
		Recipients: s.holders(ctx, actor.CapHRManager),
		Subject:    fmt.Sprintf("Clearance %s %s", updated.Department, strings.ToLower(string(updated.Status))),
		Content: map[string]any{
			"checklist_id":  checklistID,
			"separation_id": checklist.TerminationID,
			"employee_id":   checklist.EmployeeID,
			"department":    string(updated.Department),
			"status":        string(updated.Status),
			"updated_by":    in.Actor.ID,
			"comments":      updated.Comments,
		},
	})

	result := &UpdateItemResult{Item: updated}
	fresh, err := s.repo.FindByID(ctx, checklistID)
	if err != nil {
		s.logger.Warn("checklist reload failed", zap.String("checklist_id", checklistID), zap.Error(err))
		result.Checklist = checklist
		return result, nil
	}
	result.Checklist = fresh

	if fresh.AllApproved() {
		outcome, completed := s.complete(ctx, fresh)
		result.Completed = completed
		result.Settlement = outcome
		if completed {
			result.Checklist.CardReturned = true
		}
	}
	return result, nil
}

// GetChecklist はチェックリストを取得します。本人、割り当て済み管理者、いずれかの部門権限保持者が参照できます。
func (s *Service) GetChecklist(ctx context.Context, in GetChecklistInput) (*Checklist, error) {
	var (
		checklist *Checklist
		err       error
	)
	switch {
	case strings.TrimSpace(in.ChecklistID) != "":
		checklist, err = s.repo.FindByID(ctx, strings.TrimSpace(in.ChecklistID))
	case strings.TrimSpace(in.TerminationID) != "":
		checklist, err = s.repo.FindByTermination(ctx, strings.TrimSpace(in.TerminationID))
	default:
		return nil, ErrInvalidID
	}
	if err != nil {
		return nil, err
	}

	if in.Actor.ID == checklist.EmployeeID || in.Actor.ID == checklist.LineManager() {
		return checklist, nil
	}
	for _, c := range departmentCapabilities {
		if in.Actor.Can(c) {
			return checklist, nil
		}
	}
	return nil, fmt.Errorf("%w: not allowed to view checklist %s", ErrForbidden, checklist.ID)
}

func (s *Service) complete(ctx context.Context, c *Checklist) (*settlement.Outcome, bool) {
	now := s.clock.Now()
	claimed, err := s.repo.MarkCompleted(ctx, c.ID, now)
	if err != nil {
		s.logger.Error("checklist completion failed", zap.String("checklist_id", c.ID), zap.Error(err))
		return nil, false
	}
	if !claimed {
		return nil, false
	}

	if _, err := s.separations.MarkApproved(ctx, c.TerminationID, now); err != nil {
		s.logger.Error("separation approval after clearance failed",
			zap.String("separation_id", c.TerminationID),
			zap.Error(err),
		)
	}
	s.audit.Record(ctx, c.TerminationID, audit.KindClearanceCompleted, "", map[string]any{"checklist_id": c.ID})

	var outcome *settlement.Outcome
	if s.settlement != nil {
		outcome, err = s.settlement.TriggerSettlement(ctx, c.EmployeeID, c.TerminationID)
		if err != nil {
			s.logger.Error("settlement trigger failed",
				zap.String("separation_id", c.TerminationID),
				zap.String("employee_id", c.EmployeeID),
				zap.Error(err),
			)
		}
	}

	content := map[string]any{
		"checklist_id":  c.ID,
		"separation_id": c.TerminationID,
		"employee_id":   c.EmployeeID,
	}
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindClearanceCompleted,
		Recipients: []string{c.EmployeeID},
		Subject:    "Offboarding clearance complete",
		Content:    content,
	})
	s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindClearanceCompleted,
		Recipients: notification.Unique(s.holders(ctx, actor.CapHRManager), c.EmployeeID),
		Subject:    "Offboarding clearance complete",
		Content:    content,
	})
	return outcome, true
}

// retrySettlement は完了済みチェックリストの精算を再起動します。完了済みの精算は再計算されません。
func (s *Service) retrySettlement(ctx context.Context, c *Checklist) {
	if s.settlement == nil || c == nil || !c.CardReturned {
		return
	}
	outcome, err := s.settlement.TriggerSettlement(ctx, c.EmployeeID, c.TerminationID)
	if err != nil {
		s.logger.Error("settlement retry failed",
			zap.String("separation_id", c.TerminationID),
			zap.String("employee_id", c.EmployeeID),
			zap.Error(err),
		)
		return
	}
	if outcome.Resumed {
		s.logger.Info("settlement resumed for completed checklist",
			zap.String("separation_id", c.TerminationID),
			zap.String("status", string(outcome.Record.Status)),
		)
	}
}

func (s *Service) revokeAccess(ctx context.Context, c *Checklist, by actor.Actor) {
	revoked, err := s.directory.RevokeAccess(ctx, c.EmployeeID, s.clock.Now())
	if err != nil {
		s.logger.Warn("access revocation failed",
			zap.String("checklist_id", c.ID),
			zap.String("employee_id", c.EmployeeID),
			zap.Error(err),
		)
		return
	}
	if !revoked {
		return
	}
	s.audit.Record(ctx, c.TerminationID, audit.KindAccessRevoked, by.ID, map[string]any{"employee_id": c.EmployeeID})
}

func (s *Service) recordEquipmentReturns(ctx context.Context, c *Checklist, returns []EquipmentReturn, by actor.Actor) {
	known := make(map[string]struct{}, len(c.Equipment))
	for _, e := range c.Equipment {
		known[e.EquipmentID] = struct{}{}
	}

	matched := make([]EquipmentReturn, 0, len(returns))
	for _, r := range returns {
		id := strings.TrimSpace(r.EquipmentID)
		if _, ok := known[id]; !ok {
			s.logger.Info("equipment return for unknown item ignored",
				zap.String("checklist_id", c.ID),
				zap.String("equipment_id", r.EquipmentID),
			)
			continue
		}
		matched = append(matched, EquipmentReturn{EquipmentID: id, Condition: strings.TrimSpace(r.Condition)})
	}
	if len(matched) == 0 {
		return
	}

	count, err := s.repo.MarkEquipmentReturned(ctx, c.ID, matched, s.clock.Now())
	if err != nil {
		s.logger.Warn("equipment return update failed", zap.String("checklist_id", c.ID), zap.Error(err))
		return
	}

	detail := make([]map[string]any, 0, len(matched))
	for _, m := range matched {
		detail = append(detail, map[string]any{"equipment_id": m.EquipmentID, "condition": m.Condition})
	}
	s.audit.Record(ctx, c.TerminationID, audit.KindEquipmentReturned, by.ID, map[string]any{
		"checklist_id": c.ID,
		"returned":     detail,
		"updated":      count,
	})
}

func (s *Service) resolveManager(ctx context.Context, req *separation.Request) employee.ManagerResolution {
	var resolution employee.ManagerResolution
	if err := s.tx.WithinSavepoint(ctx, func(spCtx context.Context) error {
		found, err := s.directory.ResolveLineManager(spCtx, req.EmployeeID)
		if err != nil {
			return err
		}
		resolution = found
		return nil
	}); err != nil {
		resolution = employee.Unresolved(err.Error())
	}
	if !resolution.Resolved() {
		s.logger.Info("line manager unresolved",
			zap.String("separation_id", req.ID),
			zap.String("employee_id", req.EmployeeID),
			zap.String("reason", resolution.Reason),
		)
		resolution.Outcome = employee.ManagerUnresolved
	}
	return resolution
}

func (s *Service) seedEquipment(ctx context.Context, req *separation.Request) []Equipment {
	if s.equipment == nil {
		return nil
	}
	var records []Equipment
	if err := s.tx.WithinSavepoint(ctx, func(spCtx context.Context) error {
		found, err := s.equipment.ReservationsFor(spCtx, req.EmployeeID)
		if err != nil {
			return err
		}
		records = found
		return nil
	}); err != nil {
		s.logger.Warn("equipment history unavailable",
			zap.String("separation_id", req.ID),
			zap.String("employee_id", req.EmployeeID),
			zap.Error(err),
		)
		return nil
	}
	return records
}

func (s *Service) holders(ctx context.Context, c actor.Capability) []string {
	ids, err := s.directory.ListByCapability(ctx, c)
	if err != nil {
		s.logger.Warn("capability holder lookup failed", zap.Stringer("capability", c), zap.Error(err))
		return nil
	}
	return ids
}
