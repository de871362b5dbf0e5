package clearance

import (
	"context"
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
)

// Repository はチェックリスト永続化の抽象です。更新はすべて対象の項目単位で行います。
type Repository interface {
	// Create はチェックリストを作成します。同じ terminationID のものが既にあればそれを返し、false を返します。
	Create(ctx context.Context, c *Checklist) (*Checklist, bool, error)
	FindByID(ctx context.Context, id string) (*Checklist, error)
	FindByTermination(ctx context.Context, terminationID string) (*Checklist, error)
	// UpdateItem は version が一致する場合のみ項目を更新します。一致しない場合は ErrConcurrentUpdate です。
	UpdateItem(ctx context.Context, checklistID string, item Item, expectedVersion int) (*Item, error)
	MarkEquipmentReturned(ctx context.Context, checklistID string, returns []EquipmentReturn, at time.Time) (int, error)
	// MarkCompleted は未完了の場合のみ card_returned を立て、今回完了させたかを返します。
	MarkCompleted(ctx context.Context, checklistID string, at time.Time) (bool, error)
}

// SeparationStore は退職申請の参照と承認の強制を行います。
type SeparationStore interface {
	FindByID(ctx context.Context, id string) (*separation.Request, error)
	MarkApproved(ctx context.Context, id string, at time.Time) (bool, error)
}

// EquipmentHistory は入社時の貸与記録の参照口です。
type EquipmentHistory interface {
	ReservationsFor(ctx context.Context, employeeID string) ([]Equipment, error)
}

// SettlementTrigger は最終精算の起動口です。
type SettlementTrigger interface {
	TriggerSettlement(ctx context.Context, employeeID, terminationID string) (*settlement.Outcome, error)
}
