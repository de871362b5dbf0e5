package employee

import (
	"context"
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
)

// Directory は社員ディレクトリの抽象です。
type Directory interface {
	FindByID(ctx context.Context, id string) (*Employee, error)
	// TransitionStatus は現在の状態が from の場合のみ to に更新し、更新有無を返します。
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	// RevokeAccess は未失効の場合のみアクセスを失効させ、今回失効したかを返します。
	RevokeAccess(ctx context.Context, id string, at time.Time) (bool, error)
	// ResolveLineManager は部門長の系統をたどって管理者を解決します。解決できない場合は ManagerUnresolved を返します。
	ResolveLineManager(ctx context.Context, employeeID string) (ManagerResolution, error)
	ListByCapability(ctx context.Context, capability actor.Capability) ([]string, error)
}
