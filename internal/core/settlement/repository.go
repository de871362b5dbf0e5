package settlement

import (
	"context"
	"time"
)

// Repository は精算レコード永続化の抽象です。
type Repository interface {
	// Claim は INITIATED のレコードを挿入します。既に存在する場合は false を返します。
	Claim(ctx context.Context, rec *Record) (bool, error)
	// Reclaim は initiated_at が staleAt のまま残っている INITIATED レコードを at で引き継ぎます。
	Reclaim(ctx context.Context, terminationID string, staleAt, at time.Time) (bool, error)
	FindByTermination(ctx context.Context, terminationID string) (*Record, error)
	Save(ctx context.Context, rec *Record) (*Record, error)
}

// LeaveService は休暇残日数の参照口です。
type LeaveService interface {
	Balances(ctx context.Context, employeeID string) ([]LeaveBalance, error)
}

// BenefitsService は退職時給付の確定を行う給与・福利厚生サービスです。
type BenefitsService interface {
	FindTerminationBenefits(ctx context.Context, employeeID, terminationID string) ([]BenefitRecord, error)
	CreateTerminationBenefits(ctx context.Context, employeeID, terminationID string, at time.Time) ([]BenefitRecord, error)
}

// SeparationNotes は退職申請の人事コメント欄への追記口です。
type SeparationNotes interface {
	AppendHRComment(ctx context.Context, id, note string) error
}
