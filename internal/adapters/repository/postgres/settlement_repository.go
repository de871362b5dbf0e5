package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const (
	settlementColumns = `id, termination_id, employee_id, status, components, errors, initiated_at, completed_at`

	claimSettlementQuery = `
        INSERT INTO settlements (termination_id, employee_id, status, initiated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (termination_id) DO NOTHING
        RETURNING id
    `

	reclaimSettlementQuery = `
        UPDATE settlements
           SET initiated_at = $3
         WHERE termination_id = $1
           AND status = 'INITIATED'
           AND completed_at IS NULL
           AND initiated_at = $2
    `

	findSettlementQuery = `
        SELECT ` + settlementColumns + `
          FROM settlements
         WHERE termination_id = $1
         LIMIT 1
    `

	saveSettlementQuery = `
        UPDATE settlements
           SET status = $1,
               components = $2,
               errors = $3,
               completed_at = $4
         WHERE termination_id = $5
        RETURNING ` + settlementColumns
)

// SettlementRepository は PostgreSQL を利用した精算レコード永続化の実装です。
type SettlementRepository struct {
	pool pgdb.Queryer
}

// NewSettlementRepository は SettlementRepository を生成します。
func NewSettlementRepository(pool pgdb.Queryer) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

// Claim は termination_id に対する精算の起動権を取得します。
func (r *SettlementRepository) Claim(ctx context.Context, rec *settlement.Record) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	var id string
	err := exec.QueryRow(ctx, claimSettlementQuery,
		rec.TerminationID,
		rec.EmployeeID,
		string(rec.Status),
		rec.InitiatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translateSettlementPgError(err)
	}
	rec.ID = id
	return true, nil
}

// Reclaim は保存されずに残った claim を引き継ぎます。他の呼び出しが先に引き継いだ場合は false を返します。
func (r *SettlementRepository) Reclaim(ctx context.Context, terminationID string, staleAt, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, reclaimSettlementQuery, terminationID, staleAt, at)
	if err != nil {
		return false, translateSettlementPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindByTermination は退職申請 ID で精算レコードを取得します。
func (r *SettlementRepository) FindByTermination(ctx context.Context, terminationID string) (*settlement.Record, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rec, err := scanSettlement(exec.QueryRow(ctx, findSettlementQuery, terminationID))
	if err != nil {
		return nil, translateSettlementPgError(err)
	}
	return rec, nil
}

// Save は計算結果を保存します。
func (r *SettlementRepository) Save(ctx context.Context, rec *settlement.Record) (*settlement.Record, error) {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode settlement components: %w", err)
	}
	stepErrors := rec.Errors
	if stepErrors == nil {
		stepErrors = []settlement.StepError{}
	}
	errs, err := json.Marshal(stepErrors)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode settlement errors: %w", err)
	}

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	saved, err := scanSettlement(exec.QueryRow(ctx, saveSettlementQuery,
		string(rec.Status),
		components,
		errs,
		nullableTime(rec.CompletedAt),
		rec.TerminationID,
	))
	if err != nil {
		return nil, translateSettlementPgError(err)
	}
	return saved, nil
}

func scanSettlement(row pgx.Row) (*settlement.Record, error) {
	var (
		rec         settlement.Record
		status      string
		components  []byte
		errs        []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.TerminationID,
		&rec.EmployeeID,
		&status,
		&components,
		&errs,
		&rec.InitiatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrNotFound
		}
		return nil, err
	}

	if len(components) > 0 {
		if err := json.Unmarshal(components, &rec.Components); err != nil {
			return nil, fmt.Errorf("postgres: decode settlement components: %w", err)
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rec.Errors); err != nil {
			return nil, fmt.Errorf("postgres: decode settlement errors: %w", err)
		}
	}
	if len(rec.Errors) == 0 {
		rec.Errors = nil
	}
	rec.Status = settlement.Status(status)
	rec.CompletedAt = timePtr(completedAt)
	return &rec, nil
}

func translateSettlementPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isInvalidIdentifier(err) {
		return settlement.ErrNotFound
	}
	if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == foreignKeyViolationCode {
		return settlement.ErrInvalidTerminationID
	}
	return err
}

const (
	listLeaveBalancesQuery = `
        SELECT leave_type, unused_days
          FROM leave_balances
         WHERE employee_id = $1
         ORDER BY leave_type
    `

	listTerminationBenefitsQuery = `
        SELECT tb.id, tb.employee_id, tb.termination_id, tb.benefit_id, b.name, tb.created_at
          FROM employee_termination_benefits tb
          JOIN benefits b ON b.id = tb.benefit_id
         WHERE tb.employee_id = $1 AND tb.termination_id = $2
         ORDER BY b.name
    `

	createTerminationBenefitsQuery = `
        INSERT INTO employee_termination_benefits (employee_id, termination_id, benefit_id, created_at)
        SELECT $1, $2, b.id, $3
          FROM benefits b
         WHERE b.on_termination
        ON CONFLICT (employee_id, termination_id, benefit_id) DO NOTHING
    `
)

// LeaveRepository は休暇残日数の参照実装です。
type LeaveRepository struct {
	pool pgdb.Queryer
}

// NewLeaveRepository は LeaveRepository を生成します。
func NewLeaveRepository(pool pgdb.Queryer) *LeaveRepository {
	return &LeaveRepository{pool: pool}
}

// Balances は休暇種別ごとの未消化日数を返します。
func (r *LeaveRepository) Balances(ctx context.Context, employeeID string) ([]settlement.LeaveBalance, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listLeaveBalancesQuery, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []settlement.LeaveBalance
	for rows.Next() {
		var b settlement.LeaveBalance
		if err := rows.Scan(&b.LeaveType, &b.UnusedDays); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

// BenefitsRepository は退職時給付の確定を行う実装です。
type BenefitsRepository struct {
	pool pgdb.Queryer
}

// NewBenefitsRepository は BenefitsRepository を生成します。
func NewBenefitsRepository(pool pgdb.Queryer) *BenefitsRepository {
	return &BenefitsRepository{pool: pool}
}

// FindTerminationBenefits は確定済みの退職時給付を返します。
func (r *BenefitsRepository) FindTerminationBenefits(ctx context.Context, employeeID, terminationID string) ([]settlement.BenefitRecord, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listTerminationBenefitsQuery, employeeID, terminationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []settlement.BenefitRecord
	for rows.Next() {
		var b settlement.BenefitRecord
		if err := rows.Scan(&b.ID, &b.EmployeeID, &b.TerminationID, &b.BenefitID, &b.BenefitName, &b.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateTerminationBenefits は退職時給付として設定された給付を社員に紐付けます。既存の紐付けは再作成しません。
func (r *BenefitsRepository) CreateTerminationBenefits(ctx context.Context, employeeID, terminationID string, at time.Time) ([]settlement.BenefitRecord, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	if _, err := exec.Exec(ctx, createTerminationBenefitsQuery, employeeID, terminationID, at); err != nil {
		return nil, err
	}
	return r.FindTerminationBenefits(ctx, employeeID, terminationID)
}
