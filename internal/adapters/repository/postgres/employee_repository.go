package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

// maxDepartmentDepth は管理者解決で遡る部門階層の上限です。
const maxDepartmentDepth = 16

const (
	findEmployeeQuery = `
        SELECT id, department_id, email, name, status, gross_salary, access_revoked_at, created_at, updated_at
          FROM employees
         WHERE id = $1
         LIMIT 1
    `

	transitionEmployeeStatusQuery = `
        UPDATE employees
           SET status = $1,
               updated_at = $2
         WHERE id = $3 AND status = $4
    `

	revokeEmployeeAccessQuery = `
        UPDATE employees
           SET access_revoked_at = $1,
               updated_at = $1
         WHERE id = $2 AND access_revoked_at IS NULL
    `

	employeeExistsQuery = `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1)`

	resolveLineManagerQuery = `
        WITH RECURSIVE chain AS (
            SELECT d.id, d.parent_id, d.head_employee_id, 1 AS depth
              FROM employees e
              JOIN departments d ON d.id = e.department_id
             WHERE e.id = $1
            UNION ALL
            SELECT p.id, p.parent_id, p.head_employee_id, c.depth + 1
              FROM departments p
              JOIN chain c ON p.id = c.parent_id
             WHERE c.depth < $2
        )
        SELECT head_employee_id::text
          FROM chain
         WHERE head_employee_id IS NOT NULL AND head_employee_id <> $1
         ORDER BY depth
         LIMIT 1
    `

	listByCapabilityQuery = `
        SELECT c.employee_id::text
          FROM employee_capabilities c
          JOIN employees e ON e.id = c.employee_id
         WHERE c.capability = $1 AND e.status = 'active'
         ORDER BY c.employee_id
    `
)

// EmployeeRepository は PostgreSQL を利用した社員ディレクトリの実装です。
type EmployeeRepository struct {
	pool pgdb.Queryer
}

// NewEmployeeRepository は EmployeeRepository を生成します。
func NewEmployeeRepository(pool pgdb.Queryer) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

// FindByID は ID で社員を取得します。
func (r *EmployeeRepository) FindByID(ctx context.Context, id string) (*employee.Employee, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	found, err := scanEmployee(exec.QueryRow(ctx, findEmployeeQuery, id))
	if err != nil {
		return nil, translateEmployeePgError(err)
	}
	return found, nil
}

// TransitionStatus は現在の状態が from の場合のみ社員の状態を to に変更します。
func (r *EmployeeRepository) TransitionStatus(ctx context.Context, id string, from, to employee.Status, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, transitionEmployeeStatusQuery, string(to), at, id, string(from))
	if err != nil {
		return false, translateEmployeePgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAccess はアクセス権を失効させます。既に失効済みの場合は false を返します。
func (r *EmployeeRepository) RevokeAccess(ctx context.Context, id string, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, revokeEmployeeAccessQuery, at, id)
	if err != nil {
		return false, translateEmployeePgError(err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := exec.QueryRow(ctx, employeeExistsQuery, id).Scan(&exists); err != nil {
		return false, translateEmployeePgError(err)
	}
	if !exists {
		return false, employee.ErrEmployeeNotFound
	}
	return false, nil
}

// ResolveLineManager は所属部門から上位部門へ遡り、本人以外の部門長を返します。
func (r *EmployeeRepository) ResolveLineManager(ctx context.Context, employeeID string) (employee.ManagerResolution, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	var managerID string
	err := exec.QueryRow(ctx, resolveLineManagerQuery, employeeID, maxDepartmentDepth).Scan(&managerID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return employee.Unresolved("no department head on record"), nil
	case isInvalidIdentifier(err):
		return employee.Unresolved("employee id is not resolvable"), nil
	case err != nil:
		return employee.ManagerResolution{}, err
	}
	return employee.ManagerResolution{ManagerID: managerID, Outcome: employee.ManagerResolved}, nil
}

// ListByCapability は権限を持つ在籍中の社員 ID を返します。
func (r *EmployeeRepository) ListByCapability(ctx context.Context, c actor.Capability) ([]string, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listByCapabilityQuery, c.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanEmployee(row pgx.Row) (*employee.Employee, error) {
	var (
		id           string
		departmentID sql.NullString
		email        string
		name         string
		status       string
		grossSalary  float64
		revokedAt    sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
	)

	if err := row.Scan(
		&id,
		&departmentID,
		&email,
		&name,
		&status,
		&grossSalary,
		&revokedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, employee.ErrEmployeeNotFound
		}
		return nil, err
	}

	return &employee.Employee{
		ID:              id,
		DepartmentID:    departmentID.String,
		Email:           email,
		Name:            name,
		Status:          employee.Status(status),
		GrossSalary:     grossSalary,
		AccessRevokedAt: timePtr(revokedAt),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func translateEmployeePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isInvalidIdentifier(err) {
		return employee.ErrEmployeeNotFound
	}
	return err
}
