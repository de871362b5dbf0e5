package clearance

import (
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
)

// Department はクリアランスの担当部門です。
type Department string

const (
	DepartmentLineManager Department = "LINE_MANAGER"
	DepartmentIT          Department = "IT"
	DepartmentFinance     Department = "FINANCE"
	DepartmentHREmployee  Department = "HR_EMPLOYEE"
	DepartmentHR          Department = "HR"
)

// Departments はチェックリストを構成する全部門です。
var Departments = []Department{
	DepartmentLineManager,
	DepartmentIT,
	DepartmentFinance,
	DepartmentHREmployee,
	DepartmentHR,
}

// coreChain は厳密な順序で承認される部門です。
var coreChain = []Department{DepartmentLineManager, DepartmentFinance, DepartmentHR}

// Valid は定義済みの部門かどうかを返します。
func (d Department) Valid() bool {
	for _, known := range Departments {
		if d == known {
			return true
		}
	}
	return false
}

// ItemStatus はクリアランス項目の状態です。
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemApproved ItemStatus = "APPROVED"
	ItemRejected ItemStatus = "REJECTED"
)

// Valid は定義済みの状態かどうかを返します。
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemApproved, ItemRejected:
		return true
	default:
		return false
	}
}

// Item は部門ごとの承認状態です。
type Item struct {
	Department Department
	AssignedTo string
	Status     ItemStatus
	Comments   string
	UpdatedBy  string
	UpdatedAt  *time.Time
	Version    int
}

// Equipment は貸与物の返却状況です。
type Equipment struct {
	EquipmentID string
	Name        string
	Returned    bool
	Condition   string
	ReturnedAt  *time.Time
}

// EquipmentReturn は HR_EMPLOYEE 承認時に申告される返却情報です。
type EquipmentReturn struct {
	EquipmentID string
	Condition   string
}

// ReminderState は部門ごとのリマインド送信記録です。
type ReminderState struct {
	Count       int
	FirstSentAt *time.Time
	LastSentAt  *time.Time
	Escalated   bool
}

// Checklist は退職申請 1 件に対するクリアランスです。
type Checklist struct {
	ID             string
	TerminationID  string
	EmployeeID     string
	Items          []Item
	Equipment      []Equipment
	CardReturned   bool
	Reminders      map[Department]ReminderState
	ManagerOutcome employee.ManagerOutcome
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Item は部門の項目を返します。
func (c *Checklist) Item(d Department) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].Department == d {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// AllApproved は全項目が APPROVED かどうかを返します。
func (c *Checklist) AllApproved() bool {
	if len(c.Items) == 0 {
		return false
	}
	for _, item := range c.Items {
		if item.Status != ItemApproved {
			return false
		}
	}
	return true
}

// Pending は PENDING の項目を返します。
func (c *Checklist) Pending() []Item {
	var out []Item
	for _, item := range c.Items {
		if item.Status == ItemPending {
			out = append(out, item)
		}
	}
	return out
}

// LineManager は割り当て済みのライン管理者を返します。
func (c *Checklist) LineManager() string {
	if item, ok := c.Item(DepartmentLineManager); ok {
		return item.AssignedTo
	}
	return ""
}

// Reminder は部門のリマインド記録を返します。
func (c *Checklist) Reminder(d Department) ReminderState {
	if c.Reminders == nil {
		return ReminderState{}
	}
	return c.Reminders[d]
}
