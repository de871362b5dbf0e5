package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const (
	activeSeparationIndex = "separation_requests_active_employee_idx"
	separationColumns     = `id, employee_id, initiator, reason, employee_comments, hr_comments, termination_date, status, created_at, updated_at`

	insertSeparationQuery = `
        INSERT INTO separation_requests (employee_id, initiator, reason, employee_comments, hr_comments, termination_date, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING ` + separationColumns

	findSeparationQuery = `
        SELECT ` + separationColumns + `
          FROM separation_requests
         WHERE id = $1
         LIMIT 1
    `

	findActiveSeparationQuery = `
        SELECT ` + separationColumns + `
          FROM separation_requests
         WHERE employee_id = $1 AND status IN ('PENDING', 'UNDER_REVIEW')
         ORDER BY created_at DESC
         LIMIT 1
    `

	updateSeparationStatusQuery = `
        UPDATE separation_requests
           SET status = $1,
               hr_comments = $2,
               termination_date = $3,
               updated_at = $4
         WHERE id = $5 AND status = $6
        RETURNING ` + separationColumns

	markSeparationApprovedQuery = `
        UPDATE separation_requests
           SET status = 'APPROVED',
               updated_at = $1
         WHERE id = $2 AND status <> 'APPROVED'
    `

	appendHRCommentQuery = `
        UPDATE separation_requests
           SET hr_comments = CASE WHEN hr_comments = '' THEN $1 ELSE hr_comments || E'\n' || $1 END
         WHERE id = $2
    `

	separationExistsQuery = `SELECT EXISTS (SELECT 1 FROM separation_requests WHERE id = $1)`
)

// SeparationRepository は PostgreSQL を利用した退職申請永続化の実装です。
type SeparationRepository struct {
	pool pgdb.Queryer
}

// NewSeparationRepository は SeparationRepository を生成します。
func NewSeparationRepository(pool pgdb.Queryer) *SeparationRepository {
	return &SeparationRepository{pool: pool}
}

// Create は退職申請を新規作成します。
func (r *SeparationRepository) Create(ctx context.Context, req *separation.Request) (*separation.Request, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, insertSeparationQuery,
		req.EmployeeID,
		string(req.Initiator),
		req.Reason,
		req.EmployeeComments,
		req.HRComments,
		nullableDate(req.TerminationDate),
		string(req.Status),
		req.CreatedAt,
		req.UpdatedAt,
	)
	created, err := scanSeparation(row)
	if err != nil {
		return nil, translateSeparationPgError(err)
	}
	return created, nil
}

// FindByID は ID で退職申請を取得します。
func (r *SeparationRepository) FindByID(ctx context.Context, id string) (*separation.Request, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	found, err := scanSeparation(exec.QueryRow(ctx, findSeparationQuery, id))
	if err != nil {
		return nil, translateSeparationPgError(err)
	}
	return found, nil
}

// FindActiveByEmployee は社員の未確定の申請を取得します。
func (r *SeparationRepository) FindActiveByEmployee(ctx context.Context, employeeID string) (*separation.Request, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	found, err := scanSeparation(exec.QueryRow(ctx, findActiveSeparationQuery, employeeID))
	if err != nil {
		return nil, translateSeparationPgError(err)
	}
	return found, nil
}

// UpdateStatus は現在の状態が from の場合のみ状態を更新します。
func (r *SeparationRepository) UpdateStatus(ctx context.Context, req *separation.Request, from separation.Status) (*separation.Request, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, updateSeparationStatusQuery,
		string(req.Status),
		req.HRComments,
		nullableDate(req.TerminationDate),
		req.UpdatedAt,
		req.ID,
		string(from),
	)
	updated, err := scanSeparation(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, separation.ErrNotFound) {
		return nil, translateSeparationPgError(err)
	}

	exists, existsErr := r.exists(ctx, req.ID)
	if existsErr != nil {
		return nil, existsErr
	}
	if exists {
		return nil, separation.ErrConcurrentUpdate
	}
	return nil, separation.ErrNotFound
}

// MarkApproved は未承認の申請を APPROVED にします。
func (r *SeparationRepository) MarkApproved(ctx context.Context, id string, at time.Time) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, markSeparationApprovedQuery, at, id)
	if err != nil {
		return false, translateSeparationPgError(err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, separation.ErrNotFound
	}
	return false, nil
}

// AppendHRComment は人事コメント欄に行を追記します。
func (r *SeparationRepository) AppendHRComment(ctx context.Context, id, note string) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, appendHRCommentQuery, note, id)
	if err != nil {
		return translateSeparationPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return separation.ErrNotFound
	}
	return nil
}

func (r *SeparationRepository) exists(ctx context.Context, id string) (bool, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	var exists bool
	if err := exec.QueryRow(ctx, separationExistsQuery, id).Scan(&exists); err != nil {
		return false, translateSeparationPgError(err)
	}
	return exists, nil
}

func scanSeparation(row pgx.Row) (*separation.Request, error) {
	var (
		id               string
		employeeID       string
		initiator        string
		reason           string
		employeeComments string
		hrComments       string
		terminationDate  sql.NullTime
		status           string
		createdAt        time.Time
		updatedAt        time.Time
	)

	if err := row.Scan(
		&id,
		&employeeID,
		&initiator,
		&reason,
		&employeeComments,
		&hrComments,
		&terminationDate,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, separation.ErrNotFound
		}
		return nil, err
	}

	return &separation.Request{
		ID:               id,
		EmployeeID:       employeeID,
		Initiator:        separation.Initiator(initiator),
		Reason:           reason,
		EmployeeComments: employeeComments,
		HRComments:       hrComments,
		TerminationDate:  datePtr(terminationDate),
		Status:           separation.Status(status),
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func translateSeparationPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isInvalidIdentifier(err) {
		return separation.ErrNotFound
	}

	if pgErr, ok := pgErrorCode(err); ok {
		switch pgErr.Code {
		case uniqueViolationCode:
			if pgErr.ConstraintName == activeSeparationIndex {
				return separation.ErrActiveRequestExists
			}
			return separation.ErrConflict
		case foreignKeyViolationCode:
			return separation.ErrInvalidEmployeeID
		case checkViolationCode:
			return separation.ErrInvalidStatus
		}
	}
	return err
}

// AppraisalRepository は人事評価の参照実装です。
type AppraisalRepository struct {
	pool pgdb.Queryer
}

const latestAppraisalQuery = `
        SELECT employee_id, score, recorded_at
          FROM appraisals
         WHERE employee_id = $1
         ORDER BY recorded_at DESC
         LIMIT 1
    `

// NewAppraisalRepository は AppraisalRepository を生成します。
func NewAppraisalRepository(pool pgdb.Queryer) *AppraisalRepository {
	return &AppraisalRepository{pool: pool}
}

// Latest は直近の評価を返します。
func (r *AppraisalRepository) Latest(ctx context.Context, employeeID string) (*separation.Appraisal, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	var a separation.Appraisal
	if err := exec.QueryRow(ctx, latestAppraisalQuery, employeeID).Scan(&a.EmployeeID, &a.Score, &a.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidIdentifier(err) {
			return nil, separation.ErrAppraisalNotFound
		}
		return nil, err
	}
	return &a, nil
}
