package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const (
	checklistColumns = `id, termination_id, employee_id, card_returned, manager_outcome, created_at, completed_at`
	itemColumns      = `department, assigned_to::text, status, comments, updated_by, updated_at, version`

	insertChecklistQuery = `
        INSERT INTO clearance_checklists (termination_id, employee_id, manager_outcome, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (termination_id) DO NOTHING
        RETURNING id
    `

	insertItemQuery = `
        INSERT INTO clearance_items (checklist_id, department, position, assigned_to, status)
        VALUES ($1, $2, $3, $4, $5)
    `

	insertEquipmentQuery = `
        INSERT INTO clearance_equipment (checklist_id, equipment_id, name)
        VALUES ($1, $2, $3)
        ON CONFLICT (checklist_id, equipment_id) DO NOTHING
    `

	findChecklistQuery = `
        SELECT ` + checklistColumns + `
          FROM clearance_checklists
         WHERE id = $1
         LIMIT 1
    `

	findChecklistByTerminationQuery = `
        SELECT ` + checklistColumns + `
          FROM clearance_checklists
         WHERE termination_id = $1
         LIMIT 1
    `

	listItemsQuery = `
        SELECT ` + itemColumns + `
          FROM clearance_items
         WHERE checklist_id = $1
         ORDER BY position
    `

	listEquipmentQuery = `
        SELECT equipment_id, name, returned, condition, returned_at
          FROM clearance_equipment
         WHERE checklist_id = $1
         ORDER BY equipment_id
    `

	listRemindersQuery = `
        SELECT department, count, first_sent_at, last_sent_at, escalated
          FROM clearance_reminders
         WHERE checklist_id = $1
    `

	updateItemQuery = `
        UPDATE clearance_items
           SET status = $1,
               comments = $2,
               updated_by = $3,
               updated_at = $4,
               version = version + 1
         WHERE checklist_id = $5 AND department = $6 AND version = $7
        RETURNING ` + itemColumns

	itemExistsQuery = `SELECT EXISTS (SELECT 1 FROM clearance_items WHERE checklist_id = $1 AND department = $2)`

	markEquipmentReturnedQuery = `
        UPDATE clearance_equipment
           SET returned = true,
               condition = $1,
               returned_at = $2
         WHERE checklist_id = $3 AND equipment_id = $4
    `

	markChecklistCompletedQuery = `
        UPDATE clearance_checklists
           SET card_returned = true,
               completed_at = $1
         WHERE id = $2 AND card_returned = false
    `
)

// ChecklistRepository は PostgreSQL を利用したクリアランス永続化の実装です。
// 項目、貸与物、リマインド記録はそれぞれ行単位で更新します。
type ChecklistRepository struct {
	pool pgdb.Queryer
}

// NewChecklistRepository は ChecklistRepository を生成します。
func NewChecklistRepository(pool pgdb.Queryer) *ChecklistRepository {
	return &ChecklistRepository{pool: pool}
}

// Create はチェックリストと項目を作成します。呼び出し側のトランザクション内で実行してください。
func (r *ChecklistRepository) Create(ctx context.Context, c *clearance.Checklist) (*clearance.Checklist, bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	var id string
	err := exec.QueryRow(ctx, insertChecklistQuery,
		c.TerminationID,
		c.EmployeeID,
		string(managerOutcomeOrDefault(c.ManagerOutcome)),
		c.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, findErr := r.FindByTermination(ctx, c.TerminationID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, translateChecklistPgError(err)
	}

	for position, item := range c.Items {
		if _, err := exec.Exec(ctx, insertItemQuery,
			id,
			string(item.Department),
			position+1,
			nullableString(item.AssignedTo),
			string(item.Status),
		); err != nil {
			return nil, false, translateChecklistPgError(err)
		}
	}
	for _, e := range c.Equipment {
		if _, err := exec.Exec(ctx, insertEquipmentQuery, id, e.EquipmentID, e.Name); err != nil {
			return nil, false, translateChecklistPgError(err)
		}
	}

	created, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// FindByID は ID でチェックリストを取得します。
func (r *ChecklistRepository) FindByID(ctx context.Context, id string) (*clearance.Checklist, error) {
	return r.load(ctx, findChecklistQuery, id)
}

// FindByTermination は退職申請 ID でチェックリストを取得します。
func (r *ChecklistRepository) FindByTermination(ctx context.Context, terminationID string) (*clearance.Checklist, error) {
	return r.load(ctx, findChecklistByTerminationQuery, terminationID)
}

// UpdateItem は version が一致する場合のみ部門の項目を更新します。
func (r *ChecklistRepository) UpdateItem(ctx context.Context, checklistID string, item clearance.Item, expectedVersion int) (*clearance.Item, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, updateItemQuery,
		string(item.Status),
		item.Comments,
		item.UpdatedBy,
		nullableTime(item.UpdatedAt),
		checklistID,
		string(item.Department),
		expectedVersion,
	)
	updated, err := scanItem(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translateChecklistPgError(err)
	}

	var exists bool
	if err := exec.QueryRow(ctx, itemExistsQuery, checklistID, string(item.Department)).Scan(&exists); err != nil {
		return nil, translateChecklistPgError(err)
	}
	if !exists {
		return nil, clearance.ErrDepartmentNotFound
	}
	return nil, clearance.ErrConcurrentUpdate
}

// MarkEquipmentReturned は一致する貸与物を返却済みにし、更新件数を返します。
func (r *ChecklistRepository) MarkEquipmentReturned(ctx context.Context, checklistID string, returns []clearance.EquipmentReturn, at time.Time) (int, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	total := 0
	for _, ret := range returns {
		tag, err := exec.Exec(ctx, markEquipmentReturnedQuery, ret.Condition, at, checklistID, ret.EquipmentID)
		if err != nil {
			return total, translateChecklistPgError(err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// MarkCompleted は未完了のチェックリストを完了にします。
func (r *ChecklistRepository) MarkCompleted(ctx context.Context, checklistID string, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, markChecklistCompletedQuery, at, checklistID)
	if err != nil {
		return false, translateChecklistPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChecklistRepository) load(ctx context.Context, query, key string) (*clearance.Checklist, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	c, err := scanChecklist(exec.QueryRow(ctx, query, key))
	if err != nil {
		return nil, translateChecklistPgError(err)
	}
	if c.Items, err = r.items(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Equipment, err = r.equipment(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Reminders, err = r.reminders(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ChecklistRepository) items(ctx context.Context, checklistID string) ([]clearance.Item, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listItemsQuery, checklistID)
	if err != nil {
		return nil, translateChecklistPgError(err)
	}
	defer rows.Close()

	items := make([]clearance.Item, 0, len(clearance.Departments))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, translateChecklistPgError(err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, translateChecklistPgError(err)
	}
	return items, nil
}

func (r *ChecklistRepository) equipment(ctx context.Context, checklistID string) ([]clearance.Equipment, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listEquipmentQuery, checklistID)
	if err != nil {
		return nil, translateChecklistPgError(err)
	}
	defer rows.Close()

	var out []clearance.Equipment
	for rows.Next() {
		var (
			e          clearance.Equipment
			returnedAt sql.NullTime
		)
		if err := rows.Scan(&e.EquipmentID, &e.Name, &e.Returned, &e.Condition, &returnedAt); err != nil {
			return nil, translateChecklistPgError(err)
		}
		e.ReturnedAt = timePtr(returnedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateChecklistPgError(err)
	}
	return out, nil
}

func (r *ChecklistRepository) reminders(ctx context.Context, checklistID string) (map[clearance.Department]clearance.ReminderState, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listRemindersQuery, checklistID)
	if err != nil {
		return nil, translateChecklistPgError(err)
	}
	defer rows.Close()

	out := make(map[clearance.Department]clearance.ReminderState)
	for rows.Next() {
		var (
			department string
			state      clearance.ReminderState
			first      sql.NullTime
			last       sql.NullTime
		)
		if err := rows.Scan(&department, &state.Count, &first, &last, &state.Escalated); err != nil {
			return nil, translateChecklistPgError(err)
		}
		state.FirstSentAt = timePtr(first)
		state.LastSentAt = timePtr(last)
		out[clearance.Department(department)] = state
	}
	if err := rows.Err(); err != nil {
		return nil, translateChecklistPgError(err)
	}
	return out, nil
}

func scanChecklist(row pgx.Row) (*clearance.Checklist, error) {
	var (
		c           clearance.Checklist
		outcome     string
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.TerminationID,
		&c.EmployeeID,
		&c.CardReturned,
		&outcome,
		&c.CreatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clearance.ErrNotFound
		}
		return nil, err
	}
	c.ManagerOutcome = employee.ManagerOutcome(outcome)
	c.CompletedAt = timePtr(completedAt)
	return &c, nil
}

func scanItem(row pgx.Row) (*clearance.Item, error) {
	var (
		department string
		assignedTo sql.NullString
		status     string
		comments   string
		updatedBy  string
		updatedAt  sql.NullTime
		version    int
	)
	if err := row.Scan(&department, &assignedTo, &status, &comments, &updatedBy, &updatedAt, &version); err != nil {
		return nil, err
	}
	return &clearance.Item{
		Department: clearance.Department(department),
		AssignedTo: assignedTo.String,
		Status:     clearance.ItemStatus(status),
		Comments:   comments,
		UpdatedBy:  updatedBy,
		UpdatedAt:  timePtr(updatedAt),
		Version:    version,
	}, nil
}

func managerOutcomeOrDefault(o employee.ManagerOutcome) employee.ManagerOutcome {
	if o == "" {
		return employee.ManagerUnresolved
	}
	return o
}

func translateChecklistPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isInvalidIdentifier(err) {
		return clearance.ErrNotFound
	}
	if pgErr, ok := pgErrorCode(err); ok {
		switch pgErr.Code {
		case uniqueViolationCode:
			return clearance.ErrConflict
		case checkViolationCode:
			return clearance.ErrInvalidStatus
		}
	}
	return err
}
