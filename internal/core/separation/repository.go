package separation

import (
	"context"
	"time"
)

// Repository は退職申請永続化の抽象です。
type Repository interface {
	Create(ctx context.Context, req *Request) (*Request, error)
	FindByID(ctx context.Context, id string) (*Request, error)
	// FindActiveByEmployee は PENDING / UNDER_REVIEW の申請を返します。存在しない場合は ErrNotFound です。
	FindActiveByEmployee(ctx context.Context, employeeID string) (*Request, error)
	// UpdateStatus は現在の状態が from の場合のみ更新します。一致しない場合は ErrConcurrentUpdate です。
	UpdateStatus(ctx context.Context, req *Request, from Status) (*Request, error)
	// MarkApproved は未承認の場合のみ APPROVED にし、更新有無を返します。
	MarkApproved(ctx context.Context, id string, at time.Time) (bool, error)
	AppendHRComment(ctx context.Context, id, note string) error
}

// AppraisalReader は人事評価の参照口です。
type AppraisalReader interface {
	// Latest は直近の評価を返します。存在しない場合は ErrAppraisalNotFound です。
	Latest(ctx context.Context, employeeID string) (*Appraisal, error)
}

// ApprovalHook は申請承認時に同一トランザクション内で呼び出されます。
type ApprovalHook interface {
	OnSeparationApproved(ctx context.Context, req *Request) error
}
