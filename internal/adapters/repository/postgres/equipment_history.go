package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const listReservationsQuery = `
        SELECT id::text, payload
          FROM onboarding_reservations
         WHERE employee_id = $1
         ORDER BY created_at, id
    `

// EquipmentHistoryRepository は入社時の貸与予約を参照します。予約内容は自由形式の JSON です。
type EquipmentHistoryRepository struct {
	pool pgdb.Queryer
}

// NewEquipmentHistoryRepository は EquipmentHistoryRepository を生成します。
func NewEquipmentHistoryRepository(pool pgdb.Queryer) *EquipmentHistoryRepository {
	return &EquipmentHistoryRepository{pool: pool}
}

// ReservationsFor は社員の貸与物一覧を返します。解釈できない予約は読み飛ばします。
func (r *EquipmentHistoryRepository) ReservationsFor(ctx context.Context, employeeID string) ([]clearance.Equipment, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listReservationsQuery, employeeID)
	if err != nil {
		if isInvalidIdentifier(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var (
		out  []clearance.Equipment
		seen = make(map[string]struct{})
	)
	for rows.Next() {
		var (
			reservationID string
			payload       []byte
		)
		if err := rows.Scan(&reservationID, &payload); err != nil {
			return nil, err
		}
		for _, e := range parseReservation(reservationID, payload) {
			if _, dup := seen[e.EquipmentID]; dup {
				continue
			}
			seen[e.EquipmentID] = struct{}{}
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseReservation は {"equipment": [...]}, {"items": [...]}, 単一オブジェクト、配列のいずれかを受け付けます。
func parseReservation(reservationID string, payload []byte) []clearance.Equipment {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}

	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		switch {
		case isList(v["equipment"]):
			entries = v["equipment"].([]any)
		case isList(v["items"]):
			entries = v["items"].([]any)
		default:
			entries = []any{v}
		}
	default:
		return nil
	}

	out := make([]clearance.Equipment, 0, len(entries))
	for i, entry := range entries {
		var id, name string
		switch e := entry.(type) {
		case string:
			name = e
		case map[string]any:
			id = firstString(e, "equipment_id", "equipmentId", "asset_tag", "id")
			name = firstString(e, "name", "type", "description")
		default:
			continue
		}
		if id == "" && name == "" {
			continue
		}
		if id == "" {
			id = fmt.Sprintf("%s-%d", reservationID, i+1)
		}
		out = append(out, clearance.Equipment{EquipmentID: id, Name: name})
	}
	return out
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
