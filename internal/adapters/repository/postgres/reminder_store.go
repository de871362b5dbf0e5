package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const (
	listPendingChecklistsQuery = `
        SELECT c.id
          FROM clearance_checklists c
         WHERE c.card_returned = false
           AND EXISTS (
               SELECT 1
                 FROM clearance_items i
                WHERE i.checklist_id = c.id AND i.status = 'PENDING'
           )
         ORDER BY c.created_at, c.id
    `

	recordReminderQuery = `
        INSERT INTO clearance_reminders (checklist_id, department, count, first_sent_at, last_sent_at)
        VALUES ($1, $2, 1, $3, $3)
        ON CONFLICT (checklist_id, department) DO UPDATE
           SET count = clearance_reminders.count + 1,
               first_sent_at = COALESCE(clearance_reminders.first_sent_at, EXCLUDED.first_sent_at),
               last_sent_at = EXCLUDED.last_sent_at
        RETURNING count, first_sent_at, last_sent_at, escalated
    `

	claimEscalationQuery = `
        INSERT INTO clearance_reminders (checklist_id, department, escalated, escalated_at)
        VALUES ($1, $2, true, $3)
        ON CONFLICT (checklist_id, department) DO UPDATE
           SET escalated = true,
               escalated_at = EXCLUDED.escalated_at
         WHERE clearance_reminders.escalated = false
    `
)

// ListWithPending は PENDING の項目を持つ未完了のチェックリストを返します。
func (r *ChecklistRepository) ListWithPending(ctx context.Context) ([]*clearance.Checklist, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listPendingChecklistsQuery)
	if err != nil {
		return nil, translateChecklistPgError(err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, translateChecklistPgError(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translateChecklistPgError(err)
	}

	out := make([]*clearance.Checklist, 0, len(ids))
	for _, id := range ids {
		c, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RecordReminder は部門のリマインド記録を 1 件加算します。
func (r *ChecklistRepository) RecordReminder(ctx context.Context, checklistID string, department clearance.Department, at time.Time) (clearance.ReminderState, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	var (
		state clearance.ReminderState
		first sql.NullTime
		last  sql.NullTime
	)
	if err := exec.QueryRow(ctx, recordReminderQuery, checklistID, string(department), at).
		Scan(&state.Count, &first, &last, &state.Escalated); err != nil {
		return clearance.ReminderState{}, translateChecklistPgError(err)
	}
	state.FirstSentAt = timePtr(first)
	state.LastSentAt = timePtr(last)
	return state, nil
}

// ClaimEscalation は未エスカレーションの場合のみ escalated を立てます。
func (r *ChecklistRepository) ClaimEscalation(ctx context.Context, checklistID string, department clearance.Department, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, claimEscalationQuery, checklistID, string(department), at)
	if err != nil {
		return false, translateChecklistPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}
