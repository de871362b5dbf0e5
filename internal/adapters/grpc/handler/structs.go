package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
)

const dateLayout = "2006-01-02"

func stringField(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func optionalStringField(req *structpb.Struct, key string) *string {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	s := v.GetStringValue()
	return &s
}

func boolField(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

// dateField は YYYY-MM-DD または RFC 3339 の日付を受け付けます。
func dateField(req *structpb.Struct, key string) (*time.Time, error) {
	raw := stringField(req, key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(dateLayout, raw, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s: invalid format, expected YYYY-MM-DD", key))
	}
	t = t.UTC()
	return &t, nil
}

func equipmentReturnsField(req *structpb.Struct, key string) ([]clearance.EquipmentReturn, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, key+" must be a list")
	}
	out := make([]clearance.EquipmentReturn, 0, len(list.GetValues()))
	for i, entry := range list.GetValues() {
		obj := entry.GetStructValue()
		if obj == nil {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s[%d] must be an object", key, i))
		}
		id := stringField(obj, "equipment_id")
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s[%d].equipment_id is required", key, i))
		}
		out = append(out, clearance.EquipmentReturn{EquipmentID: id, Condition: stringField(obj, "condition")})
	}
	return out, nil
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeValue(*t)
}

func datePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

// jsonValue はタグ付き構造体を structpb が扱える汎用値に変換します。
func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return s, nil
}

func separationValue(r *separation.Request) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"id":                r.ID,
		"employee_id":       r.EmployeeID,
		"initiator":         string(r.Initiator),
		"reason":            r.Reason,
		"employee_comments": r.EmployeeComments,
		"hr_comments":       r.HRComments,
		"termination_date":  datePtrValue(r.TerminationDate),
		"status":            string(r.Status),
		"created_at":        timeValue(r.CreatedAt),
		"updated_at":        timeValue(r.UpdatedAt),
	}
}

func itemValue(c *clearance.Checklist, it clearance.Item) map[string]any {
	rem := c.Reminder(it.Department)
	return map[string]any{
		"department":     string(it.Department),
		"assigned_to":    it.AssignedTo,
		"status":         string(it.Status),
		"comments":       it.Comments,
		"updated_by":     it.UpdatedBy,
		"updated_at":     timePtrValue(it.UpdatedAt),
		"version":        it.Version,
		"reminder_count": rem.Count,
		"last_reminded":  timePtrValue(rem.LastSentAt),
		"escalated":      rem.Escalated,
	}
}

func checklistValue(c *clearance.Checklist) map[string]any {
	if c == nil {
		return nil
	}
	items := make([]any, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, itemValue(c, it))
	}
	equipment := make([]any, 0, len(c.Equipment))
	for _, e := range c.Equipment {
		equipment = append(equipment, map[string]any{
			"equipment_id": e.EquipmentID,
			"name":         e.Name,
			"returned":     e.Returned,
			"condition":    e.Condition,
			"returned_at":  timePtrValue(e.ReturnedAt),
		})
	}
	return map[string]any{
		"id":              c.ID,
		"termination_id":  c.TerminationID,
		"employee_id":     c.EmployeeID,
		"items":           items,
		"equipment":       equipment,
		"card_returned":   c.CardReturned,
		"manager_outcome": string(c.ManagerOutcome),
		"created_at":      timeValue(c.CreatedAt),
		"completed_at":    timePtrValue(c.CompletedAt),
	}
}

func settlementValue(rec *settlement.Record) (map[string]any, error) {
	if rec == nil {
		return nil, nil
	}
	components, err := jsonValue(rec.Components)
	if err != nil {
		return nil, err
	}
	errs := make([]any, 0, len(rec.Errors))
	for _, e := range rec.Errors {
		errs = append(errs, map[string]any{"step": string(e.Step), "error": e.Error})
	}
	return map[string]any{
		"id":             rec.ID,
		"termination_id": rec.TerminationID,
		"employee_id":    rec.EmployeeID,
		"status":         string(rec.Status),
		"components":     components,
		"errors":         errs,
		"initiated_at":   timeValue(rec.InitiatedAt),
		"completed_at":   timePtrValue(rec.CompletedAt),
	}, nil
}

func eventValue(e *audit.Event) (map[string]any, error) {
	var detail any
	if len(e.Detail) > 0 {
		v, err := jsonValue(e.Detail)
		if err != nil {
			return nil, err
		}
		detail = v
	}
	return map[string]any{
		"id":            e.ID,
		"separation_id": e.SeparationID,
		"kind":          string(e.Kind),
		"actor_id":      e.ActorID,
		"detail":        detail,
		"occurred_at":   timeValue(e.OccurredAt),
	}, nil
}
