package handler

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/reminder"
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
)

// SettlementReader は精算レコードの参照を提供します。
type SettlementReader interface {
	GetSettlement(ctx context.Context, terminationID string, who actor.Actor) (*settlement.Record, error)
}

// ReminderRunner はリマインド走査を 1 回実行します。
type ReminderRunner interface {
	RunPass(ctx context.Context, force bool) (reminder.PassResult, error)
}

// EventLister は監査イベントの一覧を提供します。
type EventLister interface {
	List(ctx context.Context, separationID string) ([]*audit.Event, error)
}

// Services は OffboardingHandler が呼び出すユースケース群です。
type Services struct {
	Separations separation.UseCase
	Clearance   clearance.UseCase
	Settlements SettlementReader
	Reminders   ReminderRunner
	Events      EventLister
}

// OffboardingHandler は OffboardingService の gRPC 実装です。
type OffboardingHandler struct {
	separations separation.UseCase
	clearance   clearance.UseCase
	settlements SettlementReader
	reminders   ReminderRunner
	events      EventLister
}

var _ OffboardingServiceServer = (*OffboardingHandler)(nil)

// NewOffboardingHandler は OffboardingHandler を生成します。
func NewOffboardingHandler(svcs Services) *OffboardingHandler {
	return &OffboardingHandler{
		separations: svcs.Separations,
		clearance:   svcs.Clearance,
		settlements: svcs.Settlements,
		reminders:   svcs.Reminders,
		events:      svcs.Events,
	}
}

// CreateResignation は本人による退職申請を受け付けます。
func (h *OffboardingHandler) CreateResignation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	lastDay, err := dateField(req, "requested_last_day")
	if err != nil {
		return nil, err
	}

	employeeID := stringField(req, "employee_id")
	if employeeID == "" {
		employeeID = who.ID
	}

	created, err := h.separations.CreateResignation(ctx, separation.CreateResignationInput{
		EmployeeID:       employeeID,
		Reason:           stringField(req, "reason"),
		Comments:         stringField(req, "comments"),
		RequestedLastDay: lastDay,
		Actor:            who,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{"separation": separationValue(created)})
}

// CreatePerformanceTermination は評価に基づく解雇手続きを開始します。
func (h *OffboardingHandler) CreatePerformanceTermination(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if stringField(req, "employee_id") == "" {
		return nil, status.Error(codes.InvalidArgument, "employee_id is required")
	}

	terminationDate, err := dateField(req, "termination_date")
	if err != nil {
		return nil, err
	}

	created, err := h.separations.CreatePerformanceTermination(ctx, separation.CreateTerminationInput{
		EmployeeID:      stringField(req, "employee_id"),
		Reason:          stringField(req, "reason"),
		TerminationDate: terminationDate,
		Actor:           who,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{"separation": separationValue(created)})
}

// UpdateSeparationStatus は退職申請のステータスを更新します。
func (h *OffboardingHandler) UpdateSeparationStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	terminationDate, err := dateField(req, "termination_date")
	if err != nil {
		return nil, err
	}

	updated, err := h.separations.UpdateStatus(ctx, separation.UpdateStatusInput{
		ID:              stringField(req, "id"),
		Status:          separation.Status(stringField(req, "status")),
		HRComments:      optionalStringField(req, "hr_comments"),
		TerminationDate: terminationDate,
		Actor:           who,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{"separation": separationValue(updated)})
}

// GetSeparation は退職申請を取得します。
func (h *OffboardingHandler) GetSeparation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	found, err := h.separations.GetSeparation(ctx, separation.GetSeparationInput{ID: stringField(req, "id"), Actor: who})
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{"separation": separationValue(found)})
}

// GetChecklist はチェックリスト ID または退職申請 ID からチェックリストを取得します。
func (h *OffboardingHandler) GetChecklist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	found, err := h.clearance.GetChecklist(ctx, clearance.GetChecklistInput{
		ChecklistID:   stringField(req, "checklist_id"),
		TerminationID: stringField(req, "termination_id"),
		Actor:         who,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{"checklist": checklistValue(found)})
}

// UpdateClearanceItem は部門のクリアランス項目を更新します。
func (h *OffboardingHandler) UpdateClearanceItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	returns, err := equipmentReturnsField(req, "equipment_returns")
	if err != nil {
		return nil, err
	}

	result, err := h.clearance.UpdateItemStatus(ctx, clearance.UpdateItemInput{
		ChecklistID:      stringField(req, "checklist_id"),
		Department:       clearance.Department(stringField(req, "department")),
		Status:           clearance.ItemStatus(stringField(req, "status")),
		Comments:         stringField(req, "comments"),
		EquipmentReturns: returns,
		Actor:            who,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	resp := map[string]any{
		"checklist": checklistValue(result.Checklist),
		"completed": result.Completed,
		"unchanged": result.Unchanged,
	}
	if result.Item != nil && result.Checklist != nil {
		resp["item"] = itemValue(result.Checklist, *result.Item)
	}
	if result.Settlement != nil {
		rec, err := settlementValue(result.Settlement.Record)
		if err != nil {
			return nil, status.Error(codes.Internal, fmt.Sprintf("encode settlement: %v", err))
		}
		resp["settlement"] = rec
	}

	return toStruct(resp)
}

// RunReminderPass はリマインド走査を即時実行します。
func (h *OffboardingHandler) RunReminderPass(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !who.Can(actor.CapSystemAdmin) && !who.Can(actor.CapHRManager) {
		return nil, status.Error(codes.PermissionDenied, "reminder pass requires system_admin or hr_manager")
	}

	result, err := h.reminders.RunPass(ctx, boolField(req, "force"))
	if err != nil {
		return nil, toStatusError(err)
	}

	return toStruct(map[string]any{
		"checklists":  result.Checklists,
		"reminders":   result.Reminders,
		"escalations": result.Escalations,
		"skipped":     result.Skipped,
		"failures":    result.Failures,
	})
}

// GetSettlement は最終精算の結果を取得します。
func (h *OffboardingHandler) GetSettlement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := h.settlements.GetSettlement(ctx, stringField(req, "termination_id"), who)
	if err != nil {
		return nil, toStatusError(err)
	}

	value, err := settlementValue(rec)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode settlement: %v", err))
	}
	return toStruct(map[string]any{"settlement": value})
}

// ListEvents は退職申請の監査イベントを返します。閲覧権限は退職申請と同じです。
func (h *OffboardingHandler) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	who, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id := stringField(req, "separation_id")
	if _, err := h.separations.GetSeparation(ctx, separation.GetSeparationInput{ID: id, Actor: who}); err != nil {
		return nil, toStatusError(err)
	}

	events, err := h.events.List(ctx, id)
	if err != nil {
		return nil, toStatusError(err)
	}

	values := make([]any, 0, len(events))
	for _, e := range events {
		v, err := eventValue(e)
		if err != nil {
			return nil, status.Error(codes.Internal, fmt.Sprintf("encode event: %v", err))
		}
		values = append(values, v)
	}
	return toStruct(map[string]any{"events": values})
}
