package employee

import "time"

// Status は社員の在籍状態を表します。
type Status string

const (
	StatusActive     Status = "active"
	StatusRetired    Status = "retired"
	StatusTerminated Status = "terminated"
	StatusInactive   Status = "inactive"
)

// Employee は社員ディレクトリ上の社員です。
type Employee struct {
	ID              string
	DepartmentID    string
	Email           string
	Name            string
	Status          Status
	GrossSalary     float64
	AccessRevokedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ManagerOutcome はライン管理者解決の結果種別です。
type ManagerOutcome string

const (
	ManagerResolved   ManagerOutcome = "resolved"
	ManagerUnresolved ManagerOutcome = "unresolved"
)

// ManagerResolution はライン管理者解決の結果です。
type ManagerResolution struct {
	ManagerID string
	Outcome   ManagerOutcome
	Reason    string
}

// Resolved は管理者が特定できたかを返します。
func (r ManagerResolution) Resolved() bool {
	return r.Outcome == ManagerResolved && r.ManagerID != ""
}

// Unresolved は解決できなかった結果を生成します。
func Unresolved(reason string) ManagerResolution {
	return ManagerResolution{Outcome: ManagerUnresolved, Reason: reason}
}
